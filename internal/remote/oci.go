package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

const DefaultConcurrency = 4

const (
	indexLabel    = "dev.graft.index"
	prefixesLabel = "dev.graft.prefixes"
)

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	log         *zap.Logger
}

// NewOCIRemote creates a remote from a standard image ref (e.g.
// "ttl.sh/team/graph:main").
func NewOCIRemote(imageRef string, auth Authenticator, log *zap.Logger) (*OCIRemote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	return &OCIRemote{ref: ref, auth: auth, concurrency: DefaultConcurrency, log: log}, nil
}

// SetConcurrency sets the number of parallel operations for push/pull.
func (r *OCIRemote) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }
func (r *OCIRemote) Tag() string      { return r.ref.Identifier() }

// WithTag returns a new OCIRemote pointing at a different tag.
func (r *OCIRemote) WithTag(tag string) (*OCIRemote, error) {
	newRef, err := name.NewTag(r.ref.Context().String()+":"+tag, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, err
	}
	return &OCIRemote{ref: newRef, auth: r.auth, concurrency: r.concurrency, log: r.log}, nil
}

// blobLayer implements v1.Layer with zstd compression for transfer.
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   zstdEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push uploads objects incrementally: prefix groups whose fingerprint
// matches the local record keep their existing layer reference.
func (r *OCIRemote) Push(ctx context.Context, indexDigest string, objects map[string][]byte, localPrefixes map[string]PrefixInfo) (map[string]PrefixInfo, error) {
	byPrefix := groupByPrefix(objects)

	r.log.Info("pushing change graph",
		zap.Int("blobs", len(objects)),
		zap.Int("prefixes", len(byPrefix)))

	currentHashes := make(map[string]string)
	for prefix, blobs := range byPrefix {
		currentHashes[prefix] = prefixHash(blobs)
	}

	var changedPrefixes []string
	for prefix, hash := range currentHashes {
		if local, ok := localPrefixes[prefix]; !ok || local.Hash != hash {
			changedPrefixes = append(changedPrefixes, prefix)
		}
	}

	// Carry over layer refs for prefixes that still exist and are unchanged.
	newPrefixes := make(map[string]PrefixInfo)
	for prefix, info := range localPrefixes {
		if _, exists := currentHashes[prefix]; !exists {
			continue
		}
		newPrefixes[prefix] = info
	}

	if len(changedPrefixes) == 0 {
		r.log.Debug("no changed prefixes, updating manifest only")
		return newPrefixes, r.pushManifest(ctx, indexDigest, newPrefixes)
	}

	changedByPrefix := make(map[string]map[string][]byte)
	for _, prefix := range changedPrefixes {
		changedByPrefix[prefix] = byPrefix[prefix]
	}

	layerPlan := buildLayerPlan(changedByPrefix)

	layers := make([]v1.Layer, 0, len(layerPlan))
	var totalRaw, totalCompressed int64
	for _, prefixGroup := range layerPlan {
		blobs := collectPrefixBlobs(prefixGroup, changedByPrefix)
		layer := newBlobLayer(packLayer(blobs))
		digest, err := layer.Digest()
		if err != nil {
			return nil, fmt.Errorf("layer digest: %w", err)
		}
		totalRaw += int64(len(layer.uncompressed))
		totalCompressed += int64(len(layer.compressed))

		layers = append(layers, layer)
		for _, prefix := range prefixGroup {
			newPrefixes[prefix] = PrefixInfo{
				Hash:  currentHashes[prefix],
				Layer: digest.String(),
			}
		}
	}

	r.log.Info("uploading layers",
		zap.Int("layers", len(layers)),
		zap.Int64("raw_bytes", totalRaw),
		zap.Int64("compressed_bytes", totalCompressed))

	img, err := r.buildImage(layers, indexDigest, newPrefixes)
	if err != nil {
		return nil, fmt.Errorf("build image: %w", err)
	}

	if err := r.pushImage(ctx, img); err != nil {
		return nil, fmt.Errorf("push image: %w", err)
	}

	return newPrefixes, nil
}

// pushManifest pushes just the manifest without new layers.
func (r *OCIRemote) pushManifest(ctx context.Context, indexDigest string, prefixes map[string]PrefixInfo) error {
	img, err := r.buildImage(nil, indexDigest, prefixes)
	if err != nil {
		return err
	}
	return r.pushImage(ctx, img)
}

func (r *OCIRemote) buildImage(layers []v1.Layer, indexDigest string, prefixes map[string]PrefixInfo) (v1.Image, error) {
	img := empty.Image

	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	prefixJSON, err := json.Marshal(prefixes)
	if err != nil {
		return nil, err
	}

	cfg.Config.Labels = map[string]string{
		indexLabel:    indexDigest,
		prefixesLabel: string(prefixJSON),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIRemote) pushImage(ctx context.Context, img v1.Image) error {
	options := r.remoteOptions()
	options = append(options, remote.WithJobs(r.concurrency))
	_, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	})
	return err
}

// Pull downloads the layers whose prefix fingerprints differ from the local
// record, in parallel.
func (r *OCIRemote) Pull(ctx context.Context, localPrefixes map[string]PrefixInfo) (string, map[string][]byte, map[string]PrefixInfo, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(r.ref, r.remoteOptions()...)
	})
	if err != nil {
		return "", nil, nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return "", nil, nil, fmt.Errorf("get config: %w", err)
	}

	indexDigest := cfg.Config.Labels[indexLabel]
	if indexDigest == "" {
		return "", nil, nil, fmt.Errorf("missing %s label", indexLabel)
	}

	var remotePrefixes map[string]PrefixInfo
	if prefixJSON := cfg.Config.Labels[prefixesLabel]; prefixJSON != "" {
		if err := json.Unmarshal([]byte(prefixJSON), &remotePrefixes); err != nil {
			return "", nil, nil, fmt.Errorf("parse prefixes: %w", err)
		}
	}

	neededLayers := make(map[string]bool)
	for prefix, remoteInfo := range remotePrefixes {
		localInfo, exists := localPrefixes[prefix]
		if !exists || localInfo.Hash != remoteInfo.Hash {
			neededLayers[remoteInfo.Layer] = true
		}
	}

	layers, err := img.Layers()
	if err != nil {
		return "", nil, nil, fmt.Errorf("get layers: %w", err)
	}

	var neededLayerList []v1.Layer
	for _, layer := range layers {
		digest, err := layer.Digest()
		if err != nil {
			continue
		}
		if neededLayers[digest.String()] {
			neededLayerList = append(neededLayerList, layer)
		}
	}

	r.log.Info("downloading layers", zap.Int("layers", len(neededLayerList)))

	var mu sync.Mutex
	objects := make(map[string][]byte)

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()

	for _, layer := range neededLayerList {
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil {
				return fmt.Errorf("close layer: %w", cerr)
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			blobs, err := unpackLayer(data)
			if err != nil {
				return fmt.Errorf("unpack layer: %w", err)
			}

			mu.Lock()
			for k, v := range blobs {
				objects[k] = v
			}
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return "", nil, nil, err
	}

	r.log.Info("pull complete", zap.Int("blobs", len(objects)))
	return indexDigest, objects, remotePrefixes, nil
}

func (r *OCIRemote) remoteOptions() []remote.Option {
	if r.auth != nil {
		username, password, err := r.auth.Authenticate(r.Registry())
		if err == nil && username != "" {
			return []remote.Option{remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			})}
		}
	}
	return []remote.Option{remote.WithAuthFromKeychain(authn.DefaultKeychain)}
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
