package ledger

import (
	"testing"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/support/render/problem"
)

func horizonError(status int, extras map[string]interface{}) error {
	return &horizonclient.Error{
		Problem: problem.P{
			Title:  "Test Problem",
			Status: status,
			Extras: extras,
		},
	}
}

func resultCodes(txCode string, opCodes ...string) map[string]interface{} {
	codes := map[string]interface{}{"transaction": txCode}
	if len(opCodes) > 0 {
		codes["operations"] = opCodes
	}
	return map[string]interface{}{"result_codes": codes}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    Kind
		retryable   bool
		safeSubmit  bool
		failReason  string
		timeoutPend bool
	}{
		{
			name:      "transport",
			err:       errors.New("connection refused"),
			wantKind:  KindTransport,
			retryable: true,
		},
		{
			name:      "rate limited",
			err:       horizonError(429, nil),
			wantKind:  KindRateLimited,
			retryable: true,
		},
		{
			name:        "gateway timeout",
			err:         horizonError(504, nil),
			wantKind:    KindTimeout,
			retryable:   true,
			safeSubmit:  true,
			timeoutPend: true,
		},
		{
			name:        "cloudflare timeout",
			err:         horizonError(522, nil),
			wantKind:    KindTimeout,
			retryable:   true,
			safeSubmit:  true,
			timeoutPend: true,
		},
		{
			name:     "not found",
			err:      horizonError(404, nil),
			wantKind: KindNotFound,
		},
		{
			name:       "transaction failure with op codes",
			err:        horizonError(400, resultCodes("tx_failed", "op_success", "op_no_trust")),
			wantKind:   KindTransaction,
			failReason: "op_no_trust",
		},
		{
			name:       "bad sequence",
			err:        horizonError(400, resultCodes("tx_bad_seq")),
			wantKind:   KindTransaction,
			safeSubmit: true,
			failReason: "tx_bad_seq",
		},
		{
			name:       "bad auth",
			err:        horizonError(400, resultCodes("tx_bad_auth")),
			wantKind:   KindTransaction,
			safeSubmit: true,
			failReason: "tx_bad_auth",
		},
		{
			name:     "plain http error",
			err:      horizonError(500, nil),
			wantKind: KindHTTP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Categorize(tt.err)
			lerr, ok := got.(*Error)
			if !ok {
				t.Fatalf("Categorize() = %T, want *Error", got)
			}
			if lerr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", lerr.Kind, tt.wantKind)
			}
			if lerr.Retryable() != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", lerr.Retryable(), tt.retryable)
			}
			if lerr.SafeToRetrySubmit() != tt.safeSubmit {
				t.Errorf("SafeToRetrySubmit() = %v, want %v", lerr.SafeToRetrySubmit(), tt.safeSubmit)
			}
			if lerr.TimeoutPending() != tt.timeoutPend {
				t.Errorf("TimeoutPending() = %v, want %v", lerr.TimeoutPending(), tt.timeoutPend)
			}
			if tt.failReason != "" && lerr.FailReason() != tt.failReason {
				t.Errorf("FailReason() = %q, want %q", lerr.FailReason(), tt.failReason)
			}
		})
	}
}

func TestCategorizeNil(t *testing.T) {
	if got := Categorize(nil); got != nil {
		t.Errorf("Categorize(nil) = %v", got)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(Categorize(horizonError(404, nil))) {
		t.Error("404 not recognized")
	}
	if IsNotFound(Categorize(errors.New("boom"))) {
		t.Error("transport error mistaken for 404")
	}
	if IsNotFound(nil) {
		t.Error("nil mistaken for 404")
	}
}

func TestFailReasonFallbacks(t *testing.T) {
	e := &Error{Kind: KindTransaction, OpCodes: []string{"op_success", "op_success"}, TxCode: "tx_failed"}
	if got := e.FailReason(); got != "tx_failed" {
		t.Errorf("FailReason() = %q, want tx_failed", got)
	}
	empty := &Error{Kind: KindTransaction}
	if got := empty.FailReason(); got != "no_reason" {
		t.Errorf("FailReason() = %q, want no_reason", got)
	}
}
