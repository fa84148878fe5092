package modelstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/taiki-kuraishi/stock-price-predictor/internal/model"
)

// API is the slice of the S3 client the store needs.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store keeps one regressor snapshot per prediction horizon in S3.
type Store struct {
	Client API
	Bucket string
}

// Key returns the object key for one stock/horizon pair.
func Key(stockName string, horizon int) string {
	return fmt.Sprintf("models/spp_%s_%dh_par.gob", stockName, horizon)
}

func (s *Store) Download(ctx context.Context, stockName string, horizon int) (*model.Regressor, error) {
	key := Key(stockName, horizon)
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download model %s: %w", key, err)
	}
	defer out.Body.Close()
	r, err := model.Decode(out.Body)
	if err != nil {
		return nil, fmt.Errorf("decode model %s: %w", key, err)
	}
	return r, nil
}

func (s *Store) Upload(ctx context.Context, stockName string, horizon int, r *model.Regressor) error {
	key := Key(stockName, horizon)
	var buf bytes.Buffer
	if err := model.Encode(&buf, r); err != nil {
		return fmt.Errorf("encode model %s: %w", key, err)
	}
	if _, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/octet-stream"),
	}); err != nil {
		return fmt.Errorf("upload model %s: %w", key, err)
	}
	return nil
}
