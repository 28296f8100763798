package service

import (
	"context"
	"testing"
)

func TestStageProviderRoundTrip(t *testing.T) {
	ctx := WithStageProvider(context.Background(), " sql ", "openai")
	if got := StageFromContext(ctx); got != StageSQL {
		t.Fatalf("stage = %q", got)
	}
	if got := ProviderFromContext(ctx); got != "openai" {
		t.Fatalf("provider = %q", got)
	}
}

func TestMissingValuesReportUnknown(t *testing.T) {
	ctx := WithStage(context.Background(), "   ")
	if got := StageFromContext(ctx); got != "unknown" {
		t.Fatalf("stage = %q", got)
	}
	if got := ProviderFromContext(nil); got != "unknown" {
		t.Fatalf("provider = %q", got)
	}
}
