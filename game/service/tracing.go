package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *Service) startSpan(ctx context.Context, name, gameID, playerID string) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, 2)
	if gameID != "" {
		attrs = append(attrs, attribute.String("koikoi.game_id", gameID))
	}
	if playerID != "" {
		attrs = append(attrs, attribute.String("koikoi.player_id", playerID))
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// finishSpan ends span, marking it failed for errors other than rule
// violations.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !IsValidation(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
