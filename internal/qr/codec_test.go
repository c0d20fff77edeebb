package qr_test

import (
	"bytes"
	"errors"
	"testing"

	"rackrunner/internal/qr"
)

func TestCodec_SignKnownVectors(t *testing.T) {
	codec := qr.NewCodec("dev-secret-change")

	tests := []struct {
		name   string
		fields []qr.Field
		want   string
	}{
		{
			name:   "rack label",
			fields: []qr.Field{{Key: "T", Value: "RR"}, {Key: "ID", Value: "R-001"}},
			want:   "T=RR;ID=R-001;S=VXNV",
		},
		{
			name: "meal item",
			fields: []qr.Field{
				{Key: "T", Value: "MI"}, {Key: "MEAL", Value: "HH"},
				{Key: "BD", Value: "20250102"}, {Key: "SER", Value: "ABC"},
			},
			want: "T=MI;MEAL=HH;BD=20250102;SER=ABC;S=T5OR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := codec.Sign(tt.fields...); got != tt.want {
				t.Errorf("Sign() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCodec_ParseRoundTrip(t *testing.T) {
	codec := qr.NewCodec("s3cret")
	token := codec.Sign(qr.Field{Key: "T", Value: qr.TypeMealBatch}, qr.Field{Key: "MEAL", Value: "GI"}, qr.Field{Key: "Q", Value: "6"})

	kv, err := codec.Parse(token)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if kv["T"] != "MB" || kv["MEAL"] != "GI" || kv["Q"] != "6" {
		t.Errorf("unexpected fields: %v", kv)
	}
	if _, ok := kv["S"]; ok {
		t.Error("signature field must not be returned")
	}
}

func TestCodec_ParseRejectsTampering(t *testing.T) {
	codec := qr.NewCodec("s3cret")
	token := codec.Sign(qr.Field{Key: "T", Value: "RR"}, qr.Field{Key: "ID", Value: "R-1"})

	cases := map[string]string{
		"changed value":   "T=RR;ID=R-2" + token[len("T=RR;ID=R-1"):],
		"missing sig":     "T=RR;ID=R-1",
		"wrong secret":    qr.NewCodec("other").Sign(qr.Field{Key: "T", Value: "RR"}, qr.Field{Key: "ID", Value: "R-1"}),
		"empty signature": "T=RR;ID=R-1;S=",
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := codec.Parse(tok); !errors.Is(err, qr.ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestCodec_ParseDuplicateKey(t *testing.T) {
	codec := qr.NewCodec("s3cret")
	if _, err := codec.Parse("T=RR;T=MI;S=AAAA"); !errors.Is(err, qr.ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestPNG(t *testing.T) {
	png, err := qr.PNG("T=RR;ID=R-001;S=VXNV", 128)
	if err != nil {
		t.Fatalf("PNG failed: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("expected PNG magic header")
	}
}
