package bili_archiver

import "fmt"

// VideoID is the platform's public identifier for a video, e.g. "BV1xx411c7mD".
type VideoID string

func (id VideoID) String() string {
	return string(id)
}

// TrackMetadata is the result of resolving a VideoID. ContentID is required by every signed call that follows.
type TrackMetadata struct {
	ID        VideoID
	Title     string
	ContentID int64
	// Duration in seconds, if the platform reported it.
	Duration int64
}

// QualityCandidate is one video elementary stream at a particular quality tier.
type QualityCandidate struct {
	QualityTier int
	CodecRank   int
	Codecs      string
	Width       int
	Height      int
	Bandwidth   int64
	StreamURL   string
	BackupURLs  []string
}

func (q QualityCandidate) String() string {
	if label, ok := QualityLabels[q.QualityTier]; ok {
		return fmt.Sprintf("%s [%d/%s]", label, q.QualityTier, q.Codecs)
	}
	return fmt.Sprintf("%d/%s", q.QualityTier, q.Codecs)
}

// AudioCandidate is one audio elementary stream.
type AudioCandidate struct {
	ID         int
	Codecs     string
	Bandwidth  int64
	StreamURL  string
	BackupURLs []string
}

// QualityLabels are the human-readable names of the known quality tiers.
var QualityLabels = map[int]string{
	127: "8K",
	126: "Dolby Vision",
	125: "HDR",
	120: "4K",
	116: "1080P60",
	112: "1080P+",
	80:  "1080P",
	74:  "720P60",
	64:  "720P",
	32:  "480P",
	16:  "360P",
	6:   "240P",
}

// Codec ranks as reported by the platform; higher is the more efficient codec.
const (
	CodecAVC  = 7
	CodecHEVC = 12
	CodecAV1  = 13
)
