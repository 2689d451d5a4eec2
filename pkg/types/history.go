package types

const (
	HistoryStepKey      = "_step"
	HistoryTimestampKey = "_timestamp"
	HistoryRuntimeKey   = "_runtime"
)

// ImageFile is the history representation of a logged image.
type ImageFile struct {
	Type   string `json:"_type"`
	Path   string `json:"path"`
	Digest string `json:"digest"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

const ImageFileType = "image-file"
