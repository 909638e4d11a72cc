package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
	"github.com/blazemigrate/blazemigrate/internal/pipeline/stages"
)

// S3UnloadSource decorates a pipeline.Source with the Unloadable
// capability: Unload streams a table's rows out through the wrapped
// source, encodes them with the migration's delimited-text format, and
// uploads the result to S3 alongside a manifest the unload retrieval
// stage can read back.
type S3UnloadSource struct {
	pipeline.Source
	log      *zap.Logger
	s3Client *s3.S3
	Format   pipeline.RowFormat
}

func NewS3UnloadSource(log *zap.Logger, sess *session.Session, wrapped pipeline.Source, format pipeline.RowFormat) *S3UnloadSource {
	return &S3UnloadSource{Source: wrapped, log: log, s3Client: s3.New(sess), Format: format}
}

func (s *S3UnloadSource) Unload(ctx context.Context, table, bucket, keyPrefix string) error {
	stream, err := s.Source.Retrieve(ctx, table)
	if err != nil {
		return err
	}
	defer stream.Close()

	dataKey := keyPrefix + "0000"
	var buf bytes.Buffer
	for {
		row, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		buf.WriteString(stages.EncodeRow(row, s.Format))
	}

	if _, err := s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(dataKey),
		Body:   bytes.NewReader(buf.Bytes()),
	}); err != nil {
		return err
	}

	manifestBody, err := json.Marshal(map[string]any{
		"entries": []map[string]string{
			{"url": fmt.Sprintf("s3://%s/%s", bucket, dataKey)},
		},
	})
	if err != nil {
		return err
	}

	s.log.Debug("wrote unload manifest", zap.String("table", table), zap.String("bucket", bucket), zap.String("key_prefix", keyPrefix))

	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(keyPrefix + "manifest"),
		Body:   bytes.NewReader(manifestBody),
	})
	return err
}
