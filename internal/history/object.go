package history

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectLog stores each snapshot as one object under
// pages/<pageID>/snapshots/<version>.json in an S3-compatible bucket. The
// zero-padded version keeps lexical and numeric order aligned.
type ObjectLog struct {
	client *minio.Client
	bucket string
	reg    *schema.Registry
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewObjectLog(ctx context.Context, cfg ObjectConfig, reg *schema.Registry) (*ObjectLog, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &ObjectLog{
		client: client,
		bucket: cfg.Bucket,
		reg:    reg,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (o *ObjectLog) Append(ctx context.Context, pageID string, doc doctree.Document, authorID string, at time.Time) (Snapshot, error) {
	if err := checkPageID(pageID); err != nil {
		return Snapshot{}, err
	}
	lock := o.pageLock(pageID)
	lock.Lock()
	defer lock.Unlock()

	versions, err := o.versions(ctx, pageID)
	if err != nil {
		return Snapshot{}, err
	}
	version := 1
	if len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}

	snap := Snapshot{PageID: pageID, Version: version, AuthorID: authorID, CreatedAt: at.UTC(), Doc: doc}
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return Snapshot{}, err
	}
	key := objectKey(pageID, version)
	info, err := o.client.PutObject(ctx, o.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"author": authorID},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("put snapshot %s: %w", key, err)
	}
	snap.Ref = info.ETag
	return snap, nil
}

func (o *ObjectLog) Latest(ctx context.Context, pageID string) (Snapshot, error) {
	if err := checkPageID(pageID); err != nil {
		return Snapshot{}, err
	}
	versions, err := o.versions(ctx, pageID)
	if err != nil {
		return Snapshot{}, err
	}
	if len(versions) == 0 {
		return Snapshot{}, fmt.Errorf("%w: page %s", ErrNotFound, pageID)
	}
	return o.read(ctx, pageID, versions[len(versions)-1])
}

func (o *ObjectLog) Get(ctx context.Context, pageID string, version int) (Snapshot, error) {
	if err := checkPageID(pageID); err != nil {
		return Snapshot{}, err
	}
	return o.read(ctx, pageID, version)
}

// List reads each snapshot object for its metadata, newest first.
func (o *ObjectLog) List(ctx context.Context, pageID string, limit int) ([]SnapshotInfo, error) {
	if err := checkPageID(pageID); err != nil {
		return nil, err
	}
	versions, err := o.versions(ctx, pageID)
	if err != nil {
		return nil, err
	}
	items := make([]SnapshotInfo, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		snap, err := o.read(ctx, pageID, versions[i])
		if err != nil {
			return nil, err
		}
		items = append(items, snap.Info())
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}

func (o *ObjectLog) read(ctx context.Context, pageID string, version int) (Snapshot, error) {
	key := objectKey(pageID, version)
	obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return Snapshot{}, fmt.Errorf("%w: page %s version %d", ErrNotFound, pageID, version)
		}
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	snap, err := decodeSnapshot(o.reg, data)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Ref = key
	return snap, nil
}

// versions lists stored versions in ascending order.
func (o *ObjectLog) versions(ctx context.Context, pageID string) ([]int, error) {
	prefix := objectPrefix(pageID)
	var out []int
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list snapshots for %s: %w", pageID, obj.Err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), ".json")
		v, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

func (o *ObjectLog) pageLock(pageID string) *sync.Mutex {
	o.lockMu.Lock()
	defer o.lockMu.Unlock()
	lock, ok := o.locks[pageID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	o.locks[pageID] = lock
	return lock
}

func objectPrefix(pageID string) string {
	return "pages/" + pageID + "/snapshots/"
}

func objectKey(pageID string, version int) string {
	return fmt.Sprintf("%s%012d.json", objectPrefix(pageID), version)
}
