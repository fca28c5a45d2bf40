package transcoder

import (
	"bytes"
	"io"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/pkg/errors"
)

// applyTrackMatrix rewrites the tkhd matrix of one track in an MP4 header.
// Every other box is copied unchanged.
func applyTrackMatrix(header []byte, trackID uint32, matrix [9]int32) ([]byte, error) {
	r := bytes.NewReader(header)
	var out seekablebuffer.Buffer
	w := gomp4.NewWriter(&out)

	_, err := gomp4.ReadBoxStructure(r, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak():
			if _, err := w.StartBox(&h.BoxInfo); err != nil {
				return nil, err
			}
			if _, err := h.Expand(); err != nil {
				return nil, err
			}
			_, err := w.EndBox()
			return nil, err

		case gomp4.BoxTypeTkhd():
			box, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tkhd := box.(*gomp4.Tkhd)
			if tkhd.TrackID == trackID {
				tkhd.Matrix = matrix
			}
			if _, err := w.StartBox(&h.BoxInfo); err != nil {
				return nil, err
			}
			if _, err := gomp4.Marshal(w, tkhd, h.BoxInfo.Context); err != nil {
				return nil, err
			}
			_, err = w.EndBox()
			return nil, err

		default:
			return nil, w.CopyBox(r, &h.BoxInfo)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "rewrite tkhd")
	}
	return out.Bytes(), nil
}

// readTrackMatrices returns the tkhd matrix of every track in an MP4 file,
// keyed by track ID.
func readTrackMatrices(r io.ReadSeeker) (map[uint32][9]int32, error) {
	boxes, err := gomp4.ExtractBoxWithPayload(r, nil, gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeTkhd()})
	if err != nil {
		return nil, errors.Wrap(err, "read tkhd")
	}
	matrices := make(map[uint32][9]int32, len(boxes))
	for _, b := range boxes {
		tkhd := b.Payload.(*gomp4.Tkhd)
		matrices[tkhd.TrackID] = tkhd.Matrix
	}
	return matrices, nil
}
