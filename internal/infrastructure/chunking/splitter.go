package chunking

import "github.com/kirillkom/bidmatch/internal/core/domain"

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// Splitter cuts text into fixed windows of runes. Windows are not trimmed,
// so the text can be rebuilt from the first window plus every later window
// minus its leading Overlap runes.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

// Split returns the windows in order. The first window is typed full.
func (s *Splitter) Split(text string) []domain.ChunkText {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]domain.ChunkText, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+s.ChunkSize, len(runes))
		kind := domain.ChunkTypeChunk
		if start == 0 {
			kind = domain.ChunkTypeFull
		}
		out = append(out, domain.ChunkText{
			Index: len(out),
			Text:  string(runes[start:end]),
			Type:  kind,
		})
		if end == len(runes) {
			break
		}
	}
	return out
}
