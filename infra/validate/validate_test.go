package validate

import (
	"testing"

	"github.com/mstgnz/coursepay/infra/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type sample struct {
	Email  string          `json:"email" validate:"required,email"`
	Amount decimal.Decimal `json:"amount" validate:"gt=0,lte=1000"`
	Doc    string          `json:"doc" validate:"required,doc_number"`
	Kind   string          `json:"kind" validate:"omitempty,oneof=card pix"`
}

func TestStruct(t *testing.T) {
	valid := sample{Email: "a@b.com", Amount: decimal.RequireFromString("49.90"), Doc: "123.456.789-09"}

	tests := []struct {
		name    string
		mutate  func(s *sample)
		wantErr string
	}{
		{name: "valid", mutate: func(s *sample) {}},
		{name: "cnpj", mutate: func(s *sample) { s.Doc = "12.345.678/0001-95" }},
		{name: "missing_email", mutate: func(s *sample) { s.Email = "" }, wantErr: "email is required"},
		{name: "bad_email", mutate: func(s *sample) { s.Email = "nope" }, wantErr: "email must be a valid email"},
		{name: "zero_amount", mutate: func(s *sample) { s.Amount = decimal.Zero }, wantErr: "amount must be gt 0"},
		{name: "amount_too_high", mutate: func(s *sample) { s.Amount = decimal.NewFromInt(1001) }, wantErr: "amount must be lte 1000"},
		{name: "short_doc", mutate: func(s *sample) { s.Doc = "1234" }, wantErr: "doc must be a valid CPF or CNPJ"},
		{name: "letters_in_doc", mutate: func(s *sample) { s.Doc = "1234567890a" }, wantErr: "doc must be a valid CPF or CNPJ"},
		{name: "bad_kind", mutate: func(s *sample) { s.Kind = "boleto" }, wantErr: "kind must be one of [card pix]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)

			err := Struct(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCustomValidateIsIdempotent(t *testing.T) {
	assert.Same(t, CustomValidate(), CustomValidate())
}
