package resolver

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"

	"go.uber.org/zap"

	bili "github.com/alanbriolat/bili-archiver"
	"github.com/alanbriolat/bili-archiver/internal/bapi"
	"github.com/alanbriolat/bili-archiver/internal/wbi"
)

// Negotiation flags sent with every play-url request.
const (
	// Highest quality ceiling the platform knows about.
	flagMaxQuality = "127"
	// DASH multi-track container with HDR, 4K, Dolby and 8K variants.
	flagDashAll = "4048"
	flag4K      = "1"
)

// API is the subset of bapi.Client the Resolver depends on.
type API interface {
	View(ctx context.Context, id bili.VideoID) (*bapi.ViewData, error)
	PlayURL(ctx context.Context, query url.Values) (*bapi.PlayURLData, error)
}

// Signer produces a signed copy of a parameter set; *wbi.Signer implements it.
type Signer interface {
	SignValues(ctx context.Context, params map[string]string) (url.Values, error)
	// Invalidate drops any cached signing key.
	Invalidate()
}

var _ Signer = (*wbi.Signer)(nil)

type Streams struct {
	// Video candidates, best codec per tier, ordered by descending tier.
	Video []bili.QualityCandidate
	// Audio candidates, best first.
	Audio []bili.AudioCandidate
}

type Resolver struct {
	api    API
	signer Signer
	log    *zap.Logger
}

func New(api API, signer Signer, log *zap.Logger) *Resolver {
	return &Resolver{
		api:    api,
		signer: signer,
		log:    log,
	}
}

// Resolve looks up the title and internal content id of a video.
func (r *Resolver) Resolve(ctx context.Context, id bili.VideoID) (bili.TrackMetadata, error) {
	view, err := r.api.View(ctx, id)
	if err != nil {
		return bili.TrackMetadata{}, fmt.Errorf("failed to resolve %s: %w", id, err)
	}
	if view.CID == 0 {
		return bili.TrackMetadata{}, fmt.Errorf("failed to resolve %s: %w: missing cid", id, bili.ErrResponseParseFailed)
	}
	meta := bili.TrackMetadata{
		ID:        id,
		Title:     view.Title,
		ContentID: view.CID,
		Duration:  view.Duration,
	}
	if view.BVID != "" {
		meta.ID = bili.VideoID(view.BVID)
	}
	r.log.Debug("resolved video",
		zap.String("bvid", string(meta.ID)),
		zap.String("title", meta.Title),
		zap.Int64("cid", meta.ContentID))
	return meta, nil
}

// FetchQualities returns the ranked video candidates for a resolved video.
func (r *Resolver) FetchQualities(ctx context.Context, meta bili.TrackMetadata) ([]bili.QualityCandidate, error) {
	streams, err := r.FetchStreams(ctx, meta)
	if err != nil {
		return nil, err
	}
	return streams.Video, nil
}

// FetchStreams performs the signed play-url lookup and ranks the video and audio candidates. A response with no
// streams is valid and yields empty lists.
func (r *Resolver) FetchStreams(ctx context.Context, meta bili.TrackMetadata) (*Streams, error) {
	params := map[string]string{
		"bvid":  string(meta.ID),
		"cid":   strconv.FormatInt(meta.ContentID, 10),
		"qn":    flagMaxQuality,
		"fnval": flagDashAll,
		"fnver": "0",
		"fourk": flag4K,
	}
	data, err := r.signedPlayURL(ctx, params)
	if apiErr, ok := bili.IsAPIError(err); ok {
		// A rejection may mean the cached key has been rotated
		r.log.Debug("play url rejected, retrying with a fresh signing key",
			zap.String("bvid", string(meta.ID)),
			zap.Int("code", apiErr.Code))
		r.signer.Invalidate()
		data, err = r.signedPlayURL(ctx, params)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch streams for %s: %w", meta.ID, err)
	}

	streams := &Streams{
		Video: []bili.QualityCandidate{},
		Audio: []bili.AudioCandidate{},
	}
	if data.Dash == nil {
		return streams, nil
	}

	descriptors := make([]bili.QualityCandidate, 0, len(data.Dash.Video))
	for _, v := range data.Dash.Video {
		descriptors = append(descriptors, bili.QualityCandidate{
			QualityTier: v.ID,
			CodecRank:   v.CodecID,
			Codecs:      v.Codecs,
			Width:       v.Width,
			Height:      v.Height,
			Bandwidth:   v.Bandwidth,
			StreamURL:   v.BaseURL,
			BackupURLs:  v.BackupURL,
		})
	}
	streams.Video = SelectBest(descriptors)

	audio := data.Dash.Audio
	if data.Dash.Dolby != nil {
		audio = append(audio, data.Dash.Dolby.Audio...)
	}
	if data.Dash.Flac != nil && data.Dash.Flac.Audio != nil {
		audio = append(audio, *data.Dash.Flac.Audio)
	}
	streams.Audio = RankAudio(audio)

	r.log.Debug("fetched streams",
		zap.String("bvid", string(meta.ID)),
		zap.Int("video_tiers", len(streams.Video)),
		zap.Int("audio_tracks", len(streams.Audio)))
	return streams, nil
}

func (r *Resolver) signedPlayURL(ctx context.Context, params map[string]string) (*bapi.PlayURLData, error) {
	query, err := r.signer.SignValues(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to sign play url request: %w", err)
	}
	return r.api.PlayURL(ctx, query)
}

// SelectBest groups descriptors by quality tier, keeps the one with the highest codec rank in each group, and returns
// the survivors ordered by descending tier. When two descriptors share a tier and the maximum codec rank, the one
// seen first wins.
func SelectBest(descriptors []bili.QualityCandidate) []bili.QualityCandidate {
	best := make(map[int]int, len(descriptors))
	for i, d := range descriptors {
		if j, ok := best[d.QualityTier]; !ok || d.CodecRank > descriptors[j].CodecRank {
			best[d.QualityTier] = i
		}
	}
	result := make([]bili.QualityCandidate, 0, len(best))
	for _, i := range best {
		result = append(result, descriptors[i])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].QualityTier > result[j].QualityTier
	})
	return result
}

// audioRank orders the known audio ids; anything unknown sorts after them by id.
var audioRank = map[int]int{
	30251: 5, // FLAC
	30250: 4, // Dolby Atmos
	30280: 3, // 192K
	30232: 2, // 132K
	30216: 1, // 64K
}

// RankAudio orders audio streams best first, dropping duplicate ids.
func RankAudio(streams []bapi.DashStream) []bili.AudioCandidate {
	seen := make(map[int]bool, len(streams))
	result := make([]bili.AudioCandidate, 0, len(streams))
	for _, s := range streams {
		if seen[s.ID] || s.BaseURL == "" {
			continue
		}
		seen[s.ID] = true
		result = append(result, bili.AudioCandidate{
			ID:         s.ID,
			Codecs:     s.Codecs,
			Bandwidth:  s.Bandwidth,
			StreamURL:  s.BaseURL,
			BackupURLs: s.BackupURL,
		})
	}
	sort.SliceStable(result, func(i, j int) bool {
		ri, rj := audioRank[result[i].ID], audioRank[result[j].ID]
		if ri != rj {
			return ri > rj
		}
		return result[i].ID > result[j].ID
	})
	return result
}

// PickQuality chooses a candidate from a list ordered by descending tier. requested 0 means the best available;
// otherwise the exact tier, or failing that the best tier below it, or failing that the lowest tier on offer.
func PickQuality(candidates []bili.QualityCandidate, requested int) (bili.QualityCandidate, bool) {
	if len(candidates) == 0 {
		return bili.QualityCandidate{}, false
	}
	if requested <= 0 {
		return candidates[0], true
	}
	for _, c := range candidates {
		if c.QualityTier <= requested {
			return c, true
		}
	}
	return candidates[len(candidates)-1], true
}
