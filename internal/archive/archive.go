// Package archive grava um recibo JSON de cada rodada liquidada ou cancelada
// num bucket S3. Best-effort: roda como destino do fan-out de eventos.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

// Uploader é o subconjunto do *s3.Client usado aqui.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Reader lê a rodada já commitada; repo.Store satisfaz.
type Reader interface {
	GetRound(ctx context.Context, id string) (*domain.Round, error)
	ListPredictionsByRound(ctx context.Context, roundID string) ([]domain.Prediction, error)
}

// Receipt é o documento arquivado.
type Receipt struct {
	Event       string              `json:"event"`
	Outcome     string              `json:"outcome"`
	Round       *domain.Round       `json:"round"`
	Predictions []domain.Prediction `json:"predictions"`
	ArchivedAt  time.Time           `json:"archivedAt"`
}

type Archiver struct {
	Store    Reader
	Uploader Uploader
	Bucket   string
	Prefix   string
	Now      func() time.Time
}

func New(store Reader, up Uploader, bucket, prefix string) *Archiver {
	return &Archiver{Store: store, Uploader: up, Bucket: bucket, Prefix: prefix, Now: time.Now}
}

// Key monta receipts/2026/03/01/<round>.json a partir do fim da rodada.
func (a *Archiver) Key(r *domain.Round) string {
	day := r.EndTime.UTC().Format("2006/01/02")
	return path.Join(strings.TrimSuffix(a.Prefix, "/"), day, r.ID+".json")
}

func (a *Archiver) Publish(ctx context.Context, e events.Event) error {
	var roundID, outcome string
	switch ev := e.(type) {
	case events.RoundResolved:
		roundID, outcome = ev.RoundID, ev.Outcome
	case events.RoundCancelled:
		roundID, outcome = ev.RoundID, "CANCELLED"
	default:
		return nil
	}

	rec, err := a.receipt(ctx, e.Name(), roundID, outcome)
	if err != nil {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal receipt: %w", err)
	}

	_, err = a.Uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(a.Key(rec.Round)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", roundID, err)
	}
	return nil
}

func (a *Archiver) receipt(ctx context.Context, name, roundID, outcome string) (*Receipt, error) {
	r, err := a.Store.GetRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("archive: load round: %w", err)
	}
	preds, err := a.Store.ListPredictionsByRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("archive: load predictions: %w", err)
	}
	return &Receipt{
		Event:       name,
		Outcome:     outcome,
		Round:       r,
		Predictions: preds,
		ArchivedAt:  a.Now().UTC(),
	}, nil
}
