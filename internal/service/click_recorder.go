package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/repository"
	"go.uber.org/zap"
)

const defaultUniqueWindow = 24 * time.Hour

// ClickRecorder пишет клики в буфер Redis, минуя БД на пути запроса.
// Ошибки логируются и не возвращаются вызывающему.
type ClickRecorder interface {
	Record(ctx context.Context, in models.ClickInput)
	RecordBatch(ctx context.Context, in []models.ClickInput)
}

type clickRecorder struct {
	buffer       repository.ClickBuffer
	uniqueWindow time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewClickRecorder создаёт рекордер кликов
func NewClickRecorder(buffer repository.ClickBuffer, uniqueWindow time.Duration, logger *zap.Logger) ClickRecorder {
	if uniqueWindow <= 0 {
		uniqueWindow = defaultUniqueWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &clickRecorder{
		buffer:       buffer,
		uniqueWindow: uniqueWindow,
		now:          time.Now,
		logger:       logger,
	}
}

func (r *clickRecorder) Record(ctx context.Context, in models.ClickInput) {
	r.RecordBatch(ctx, []models.ClickInput{in})
}

// RecordBatch обогащает клики и отправляет их в Redis одним пайплайном
func (r *clickRecorder) RecordBatch(ctx context.Context, in []models.ClickInput) {
	if len(in) == 0 {
		return
	}

	clicks := make([]repository.BufferedClick, 0, len(in))
	for _, input := range in {
		event := r.enrich(input)
		payload, err := json.Marshal(event)
		if err != nil {
			r.logger.Warn("Не удалось сериализовать клик", zap.String("url_id", input.URLID), zap.Error(err))
			continue
		}
		clicks = append(clicks, repository.BufferedClick{
			URLID:     input.URLID,
			IPAddress: input.IPAddress,
			Payload:   string(payload),
		})
	}

	if _, err := r.buffer.Append(ctx, clicks, r.uniqueWindow); err != nil {
		r.logger.Error("Не удалось записать клики в буфер",
			zap.Int("count", len(clicks)),
			zap.Error(err),
		)
	}
}

// enrich заполняет производные поля; геолокация по IP не реализована
func (r *clickRecorder) enrich(in models.ClickInput) models.ClickEvent {
	info := parseUserAgent(in.UserAgent)

	at := in.At
	if at.IsZero() {
		at = r.now()
	}

	return models.ClickEvent{
		URLID:     in.URLID,
		UserID:    in.UserID,
		IPAddress: in.IPAddress,
		UserAgent: in.UserAgent,
		Referer:   in.Referer,
		Country:   models.UnknownValue,
		City:      models.UnknownValue,
		Device:    info.Device,
		Browser:   info.Browser,
		OS:        info.OS,
		ClickedAt: at.UTC(),
	}
}
