package gateway

import (
	"net/url"
	"testing"
)

func TestHashQueryStableAcrossKeyOrder(t *testing.T) {
	t.Parallel()

	a := url.Values{"market": {"KRW-BTC"}, "count": {"10"}}
	b := url.Values{"count": {"10"}, "market": {"KRW-BTC"}}

	if hashQuery(a) != hashQuery(b) {
		t.Fatal("expected query hash to be independent of map iteration order")
	}
}

func TestHashQueryChangesWithValue(t *testing.T) {
	t.Parallel()

	a := url.Values{"market": {"KRW-BTC"}}
	b := url.Values{"market": {"KRW-ETH"}}

	if hashQuery(a) == hashQuery(b) {
		t.Fatal("expected different query values to hash differently")
	}
}

func TestDecodeEnvelopeSuccess(t *testing.T) {
	t.Parallel()

	var out struct {
		Foo string `json:"foo"`
	}
	ok, err := decodeEnvelope([]byte(`{"status":"0000","data":{"foo":"bar"}}`), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || out.Foo != "bar" {
		t.Fatalf("expected decoded data, got ok=%v out=%+v", ok, out)
	}
}

func TestDecodeEnvelopeNoData(t *testing.T) {
	t.Parallel()

	var out struct{}
	ok, err := decodeEnvelope([]byte(`{"status":"5500","message":"no data"}`), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for status 5500")
	}
}

func TestDecodeEnvelopeErrorBody(t *testing.T) {
	t.Parallel()

	var out struct{}
	_, err := decodeEnvelope([]byte(`{"error":{"name":"order_not_found","message":"no such order"}}`), &out)
	if err == nil {
		t.Fatal("expected error for error envelope")
	}

	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected *DomainError, got %T", err)
	}
	if domainErr.Kind != KindOrderNotFound {
		t.Fatalf("expected KindOrderNotFound, got %s", domainErr.Kind)
	}
}

func TestDecodeEnvelopeBareArray(t *testing.T) {
	t.Parallel()

	var out []int
	ok, err := decodeEnvelope([]byte(`[1,2,3]`), &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || len(out) != 3 {
		t.Fatalf("expected bare array decode, got ok=%v out=%v", ok, out)
	}
}
