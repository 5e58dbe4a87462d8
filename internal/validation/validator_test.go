// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package validation

import (
	"strings"
	"testing"
)

type feedQuery struct {
	UserID string `validate:"required,uuid"`
	Offset int    `validate:"min=0"`
	Limit  int    `validate:"min=1,max=100"`
}

func TestValidateStructValid(t *testing.T) {
	q := feedQuery{
		UserID: "550e8400-e29b-41d4-a716-446655440000",
		Offset: 0,
		Limit:  20,
	}
	if verr := ValidateStruct(&q); verr != nil {
		t.Errorf("expected valid, got: %v", verr)
	}
}

func TestValidateStructFailures(t *testing.T) {
	tests := []struct {
		name      string
		query     feedQuery
		wantField string
	}{
		{
			name:      "missing user id",
			query:     feedQuery{Limit: 20},
			wantField: "UserID",
		},
		{
			name:      "malformed user id",
			query:     feedQuery{UserID: "not-a-uuid", Limit: 20},
			wantField: "UserID",
		},
		{
			name:      "negative offset",
			query:     feedQuery{UserID: "550e8400-e29b-41d4-a716-446655440000", Offset: -1, Limit: 20},
			wantField: "Offset",
		},
		{
			name:      "limit over cap",
			query:     feedQuery{UserID: "550e8400-e29b-41d4-a716-446655440000", Limit: 101},
			wantField: "Limit",
		},
		{
			name:      "zero limit",
			query:     feedQuery{UserID: "550e8400-e29b-41d4-a716-446655440000", Limit: 0},
			wantField: "Limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := ValidateStruct(&tt.query)
			if verr == nil {
				t.Fatal("expected validation error, got nil")
			}

			found := false
			for _, fe := range verr.Errors() {
				if fe.Field() == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %s, got: %v", tt.wantField, verr)
			}
		})
	}
}

func TestToAPIErrorSingle(t *testing.T) {
	q := feedQuery{UserID: "550e8400-e29b-41d4-a716-446655440000", Limit: 500}
	verr := ValidateStruct(&q)
	if verr == nil {
		t.Fatal("expected validation error")
	}

	apiErr := verr.ToAPIError()
	if apiErr.Code != "VALIDATION_ERROR" {
		t.Errorf("code = %s, want VALIDATION_ERROR", apiErr.Code)
	}
	if !strings.Contains(apiErr.Message, "Limit") {
		t.Errorf("message should mention field: %q", apiErr.Message)
	}
	if apiErr.Details["field"] != "Limit" {
		t.Errorf("details.field = %v, want Limit", apiErr.Details["field"])
	}
}

func TestToAPIErrorMultiple(t *testing.T) {
	q := feedQuery{Offset: -5, Limit: 0}
	verr := ValidateStruct(&q)
	if verr == nil {
		t.Fatal("expected validation error")
	}
	if len(verr.Errors()) < 2 {
		t.Fatalf("expected multiple errors, got %d", len(verr.Errors()))
	}

	apiErr := verr.ToAPIError()
	if _, ok := apiErr.Details["fields"]; !ok {
		t.Error("multi-error response should carry fields detail")
	}
}
