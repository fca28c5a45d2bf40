package transcoder

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/pkg/errors"
)

// FormatValidator checks determined output formats against what the output
// container can carry. It runs once, when the output gate opens.
type FormatValidator interface {
	ValidateVideo(f *Format) error
	ValidateAudio(f *Format) error
}

// MP4Profile accepts H.264 baseline, main or high video and AAC or Opus
// audio.
type MP4Profile struct{}

var mp4ProfileIDCs = map[uint8]bool{
	H264ProfileBaseline.ProfileIDC(): true,
	H264ProfileMain.ProfileIDC():     true,
	H264ProfileHigh.ProfileIDC():     true,
}

// ValidateVideo implements FormatValidator.
func (MP4Profile) ValidateVideo(f *Format) error {
	if f == nil || f.MIME != MIMEVideoAVC {
		return errors.Wrapf(ErrInvalidOutputFormat, "video codec %v", f)
	}
	if len(f.CSD) == 0 || len(f.CSD[0]) == 0 {
		return errors.Wrap(ErrInvalidOutputFormat, "H.264 format without SPS")
	}
	var sps h264.SPS
	if err := sps.Unmarshal(f.CSD[0]); err != nil {
		return errors.Wrapf(ErrInvalidOutputFormat, "parse SPS: %v", err)
	}
	if !mp4ProfileIDCs[sps.ProfileIdc] {
		return errors.Wrapf(ErrInvalidOutputFormat, "H.264 profile_idc %d", sps.ProfileIdc)
	}
	return nil
}

// ValidateAudio implements FormatValidator.
func (MP4Profile) ValidateAudio(f *Format) error {
	if f == nil {
		return errors.Wrap(ErrInvalidOutputFormat, "nil audio format")
	}
	switch f.MIME {
	case MIMEAudioAAC:
		if len(f.CSD) == 0 || len(f.CSD[0]) == 0 {
			return errors.Wrap(ErrInvalidOutputFormat, "AAC format without AudioSpecificConfig")
		}
		return nil
	case MIMEAudioOpus:
		return nil
	default:
		return errors.Wrapf(ErrInvalidOutputFormat, "audio codec %s", f.MIME)
	}
}

// parameterSets returns the SPS and PPS found in an Annex-B access unit.
func parameterSets(au []byte) (sps, pps []byte, err error) {
	var nalus h264.AnnexB
	if err := nalus.Unmarshal(au); err != nil {
		return nil, nil, errors.Wrap(err, "parse Annex-B")
	}
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			sps = bytes.Clone(nalu)
		case h264.NALUTypePPS:
			pps = bytes.Clone(nalu)
		}
	}
	if sps == nil || pps == nil {
		return nil, nil, errors.New("access unit carries no SPS/PPS")
	}
	return sps, pps, nil
}
