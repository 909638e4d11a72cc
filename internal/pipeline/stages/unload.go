package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"go.uber.org/zap"

	"github.com/blazemigrate/blazemigrate/internal/pipeline"
)

const DefaultChunkSize = 65536

// UnloadGenerationStage triggers a bulk unload of a table to an object
// store via the message's Source, provided it implements Unloadable, and
// records where the unloaded manifest landed.
type UnloadGenerationStage struct {
	pipeline.BaseStage
	log        *zap.Logger
	Bucket     string
	PathPrefix string
}

func NewUnloadGenerationStage(log *zap.Logger, bucket, pathPrefix string) *UnloadGenerationStage {
	s := &UnloadGenerationStage{log: log, Bucket: bucket, PathPrefix: pathPrefix}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, ok := pipeline.GetPacket[pipeline.ImportTablePacket](m)
		return ok
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *UnloadGenerationStage) process(ctx context.Context, m *pipeline.Message) error {
	importPkt, err := pipeline.MustGetPacket[pipeline.ImportTablePacket](m)
	if err != nil {
		return err
	}

	unloadable, ok := importPkt.Source.(pipeline.Unloadable)
	if !ok {
		return m.Forward(ctx)
	}

	keyPrefix := importPkt.Table + "/slice_"
	if s.PathPrefix != "" {
		keyPrefix = s.PathPrefix + "/" + keyPrefix
	}

	s.log.Debug("unloading table to object store", zap.String("table", importPkt.Table), zap.String("bucket", s.Bucket), zap.String("key_prefix", keyPrefix))

	if err := unloadable.Unload(ctx, importPkt.Table, s.Bucket, keyPrefix); err != nil {
		return err
	}

	m.AddPacket(pipeline.DataUnloadPacket{Bucket: s.Bucket, KeyPrefix: keyPrefix})
	return m.Forward(ctx)
}

type manifestEntry struct {
	URL string `json:"url"`
}

type manifest struct {
	Entries []manifestEntry `json:"entries"`
}

// UnloadRetrievalStage reads an unload manifest from S3, fetches each
// referenced file, and forwards each one as a DataLoadPacket on a child
// message, joining on their handles before emitting DataCompletePacket.
// Concurrency in flight is capped at PendingHandles.
type UnloadRetrievalStage struct {
	pipeline.BaseStage
	log            *zap.Logger
	s3Client       *s3.S3
	ChunkSize      int
	PendingHandles int
}

func NewUnloadRetrievalStage(log *zap.Logger, sess *session.Session, pendingHandles int) *UnloadRetrievalStage {
	s := &UnloadRetrievalStage{
		log:            log,
		s3Client:       s3.New(sess),
		ChunkSize:      DefaultChunkSize,
		PendingHandles: pendingHandles,
	}
	s.BaseStage.Matches = func(m *pipeline.Message) bool {
		_, ok := pipeline.GetPacket[pipeline.DataUnloadPacket](m)
		return ok
	}
	s.BaseStage.Process = s.process
	return s
}

func (s *UnloadRetrievalStage) readManifest(ctx context.Context, bucket, keyPrefix string) ([]string, error) {
	out, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(keyPrefix + "manifest"),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}

	var mf manifest
	if err := json.Unmarshal(body, &mf); err != nil {
		return nil, err
	}

	urls := make([]string, len(mf.Entries))
	for i, e := range mf.Entries {
		urls[i] = e.URL
	}
	return urls, nil
}

func parseS3URL(url string) (bucket, key string, err error) {
	const prefix = "s3://"
	if len(url) <= len(prefix) || url[:len(prefix)] != prefix {
		return "", "", fmt.Errorf("not an s3 url: %s", url)
	}
	rest := url[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("s3 url missing key: %s", url)
}

func (s *UnloadRetrievalStage) retrieveFile(ctx context.Context, url string) ([]byte, error) {
	bucket, key, err := parseS3URL(url)
	if err != nil {
		return nil, err
	}

	s.log.Info("retrieving unloaded file", zap.String("key", key))

	out, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	buf := bytes.Buffer{}
	if _, err := io.CopyBuffer(&buf, out.Body, make([]byte, s.ChunkSize)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *UnloadRetrievalStage) process(ctx context.Context, m *pipeline.Message) error {
	unloadPkt, err := pipeline.MustGetPacket[pipeline.DataUnloadPacket](m)
	if err != nil {
		return err
	}
	m.RemovePacket(unloadPkt)

	urls, err := s.readManifest(ctx, unloadPkt.Bucket, unloadPkt.KeyPrefix)
	if err != nil {
		return err
	}

	var pending []*pipeline.Handle
	for i, url := range urls {
		pending = s.limitPending(ctx, pending)

		data, err := s.retrieveFile(ctx, url)
		if err != nil {
			return err
		}

		child, err := m.ForwardChild(ctx, true, pipeline.DataLoadPacket{Data: data, Index: int64(i)})
		if err != nil {
			return err
		}
		pending = append(pending, child.Handle())
	}

	for _, h := range pending {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}

	m.AddPacket(pipeline.DataCompletePacket{})
	return m.Forward(ctx)
}

func (s *UnloadRetrievalStage) limitPending(ctx context.Context, pending []*pipeline.Handle) []*pipeline.Handle {
	if len(pending) <= s.PendingHandles {
		return pending
	}
	for _, h := range pending {
		_ = h.Wait(ctx)
	}
	return nil
}
