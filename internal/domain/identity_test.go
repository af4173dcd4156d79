package domain_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/evetabi/auction/internal/domain"
)

func TestNormalizeIdentity(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"  0xABCDEFabcdef0123456789ABCDEFabcdef012345 ", "0xabcdefabcdef0123456789abcdefabcdef012345", false},
		{"0x1111111111111111111111111111111111111111", "0x1111111111111111111111111111111111111111", false},
		{"1111111111111111111111111111111111111111", "", true},
		{"0x1234", "", true},
		{"0xZZ11111111111111111111111111111111111111", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := domain.NormalizeIdentity(tt.in)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidIdentity) {
				t.Errorf("NormalizeIdentity(%q) err = %v, want ErrInvalidIdentity", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeIdentity(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestNormalizeEvidence(t *testing.T) {
	good := "0x" + strings.Repeat("AB", 32)
	ev, err := domain.NormalizeEvidence(domain.SettlementEvidence{TxHash: good, Payer: strings.ToUpper(bidderA[2:])})
	if !errors.Is(err, domain.ErrInvalidIdentity) {
		t.Errorf("payer without 0x: got %v", err)
	}

	ev, err = domain.NormalizeEvidence(domain.SettlementEvidence{TxHash: good})
	if err != nil {
		t.Fatalf("valid hash: %v", err)
	}
	if ev.TxHash != strings.ToLower(good) {
		t.Errorf("hash not lower-cased: %s", ev.TxHash)
	}

	for _, bad := range []string{"", "0x", "0x1234", good + "00", "ab" + strings.Repeat("00", 31)} {
		if _, err := domain.NormalizeEvidence(domain.SettlementEvidence{TxHash: bad}); !errors.Is(err, domain.ErrInvalidEvidence) {
			t.Errorf("NormalizeEvidence(%q) = %v, want ErrInvalidEvidence", bad, err)
		}
	}
}

func TestErrorPredicates(t *testing.T) {
	wrapped := errors.Join(domain.ErrStoreUnavailable, errors.New("dial tcp: timeout"))
	if !domain.IsTransient(wrapped) {
		t.Error("wrapped store error should be transient")
	}
	if !domain.IsConflict(domain.ErrVersionConflict) || domain.IsValidation(domain.ErrVersionConflict) {
		t.Error("version conflict must classify as conflict only")
	}
	if !domain.IsValidation(domain.ErrBidTooLow) {
		t.Error("bid too low is a validation error")
	}
	if !domain.IsAuthError(domain.ErrSelfBid) || domain.IsValidation(domain.ErrSelfBid) {
		t.Error("ErrSelfBid should classify as authorization")
	}
	if !domain.IsAuthError(domain.ErrNotSeller) {
		t.Error("not seller is an authorization error")
	}
	if !domain.IsNotFound(domain.ErrAuctionNotFound) {
		t.Error("auction not found")
	}
}
