package transcoder

import (
	"io"
	"sort"
	"time"

	gomp4 "github.com/abema/go-mp4"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/pkg/errors"
)

type mp4Track struct {
	id        uint32
	timescale uint32
	format    *Format
	matrix    [9]int32
	// H.264 payloads are stored length-prefixed and leave the demuxer as Annex-B.
	avcc bool
	// end of the last sample in microseconds
	endUs int64
}

// MP4Demuxer reads progressive and fragmented MP4 files.
// It also implements MetadataRetriever for the same file.
type MP4Demuxer struct {
	r        io.ReadSeeker
	tracks   []*mp4Track
	samples  []demuxedSample
	selected map[int]bool
	pos      int

	durationUs int64
	fragmented bool
	// fragmented payloads are held in memory, indexed like samples
	payloads [][]byte
}

// NewMP4Demuxer parses the moov box and sample tables of r.
func NewMP4Demuxer(r io.ReadSeeker) (*MP4Demuxer, error) {
	d := &MP4Demuxer{r: r, selected: make(map[int]bool)}

	mvex, err := gomp4.ExtractBox(r, nil, gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeMvex()})
	if err != nil {
		return nil, errors.Wrap(err, "read moov")
	}
	d.fragmented = len(mvex) > 0

	if err := d.readMovieHeader(); err != nil {
		return nil, err
	}
	if d.fragmented {
		err = d.readFragmented()
	} else {
		err = d.readProgressive()
	}
	if err != nil {
		return nil, err
	}

	// Fragmented files usually leave the mvhd duration at zero.
	if d.durationUs <= 0 {
		for _, t := range d.tracks {
			d.durationUs = max(d.durationUs, t.endUs)
		}
	}
	return d, nil
}

func (d *MP4Demuxer) readMovieHeader() error {
	boxes, err := gomp4.ExtractBoxWithPayload(d.r, nil, gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeMvhd()})
	if err != nil {
		return errors.Wrap(err, "read mvhd")
	}
	if len(boxes) == 0 {
		return errors.Wrap(ErrUnsupportedInput, "no mvhd box")
	}
	mvhd := boxes[0].Payload.(*gomp4.Mvhd)
	duration := uint64(mvhd.DurationV0)
	if mvhd.GetVersion() == 1 {
		duration = mvhd.DurationV1
	}
	if mvhd.Timescale > 0 {
		d.durationUs = ticksToMicros(int64(duration), mvhd.Timescale)
	}
	return nil
}

// readProgressive builds tracks from trak boxes and samples from the sample
// tables reported by gomp4.Probe.
func (d *MP4Demuxer) readProgressive() error {
	if _, err := d.r.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek input")
	}
	info, err := gomp4.Probe(d.r)
	if err != nil {
		return errors.Wrap(err, "probe mp4")
	}

	traks, err := gomp4.ExtractBox(d.r, nil, gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak()})
	if err != nil {
		return errors.Wrap(err, "read trak")
	}

	for _, trak := range traks {
		t, err := d.readTrak(trak)
		if err != nil {
			return err
		}
		if t == nil {
			continue
		}

		var probed *gomp4.Track
		for _, pt := range info.Tracks {
			if pt.TrackID == t.id {
				probed = pt
			}
		}
		if probed == nil {
			continue
		}
		if probed.Encrypted {
			return errors.Wrapf(ErrEncryptedSource, "track %d", t.id)
		}

		syncSamples, err := d.readSyncSamples(trak)
		if err != nil {
			return err
		}

		index := len(d.tracks)
		d.tracks = append(d.tracks, t)

		var dts int64
		sampleNum := 0
		for _, chunk := range probed.Chunks {
			offset := int64(chunk.DataOffset)
			for i := uint32(0); i < chunk.SamplesPerChunk && sampleNum < len(probed.Samples); i++ {
				s := probed.Samples[sampleNum]
				sampleNum++

				sync := syncSamples == nil || syncSamples[uint32(sampleNum)]
				d.samples = append(d.samples, demuxedSample{
					track:  index,
					offset: offset,
					size:   int(s.Size),
					pts:    ticksToMicros(dts+int64(s.CompositionTimeOffset), t.timescale),
					sync:   sync,
				})
				offset += int64(s.Size)
				dts += int64(s.TimeDelta)
			}
		}
		t.endUs = ticksToMicros(dts, t.timescale)
	}

	// container order
	sort.SliceStable(d.samples, func(i, j int) bool {
		return d.samples[i].offset < d.samples[j].offset
	})
	return nil
}

// readTrak reads the header, handler and sample description of one track.
// Tracks that are neither audio nor video are skipped with a nil result.
func (d *MP4Demuxer) readTrak(trak *gomp4.BoxInfo) (*mp4Track, error) {
	tkhds, err := gomp4.ExtractBoxWithPayload(d.r, trak, gomp4.BoxPath{gomp4.BoxTypeTkhd()})
	if err != nil || len(tkhds) == 0 {
		return nil, errors.Wrap(errOrMissing(err), "read tkhd")
	}
	tkhd := tkhds[0].Payload.(*gomp4.Tkhd)

	mdhds, err := gomp4.ExtractBoxWithPayload(d.r, trak, gomp4.BoxPath{gomp4.BoxTypeMdia(), gomp4.BoxTypeMdhd()})
	if err != nil || len(mdhds) == 0 {
		return nil, errors.Wrap(errOrMissing(err), "read mdhd")
	}
	mdhd := mdhds[0].Payload.(*gomp4.Mdhd)

	hdlrs, err := gomp4.ExtractBoxWithPayload(d.r, trak, gomp4.BoxPath{gomp4.BoxTypeMdia(), gomp4.BoxTypeHdlr()})
	if err != nil || len(hdlrs) == 0 {
		return nil, errors.Wrap(errOrMissing(err), "read hdlr")
	}
	handler := string(hdlrs[0].Payload.(*gomp4.Hdlr).HandlerType[:])

	t := &mp4Track{id: tkhd.TrackID, timescale: mdhd.Timescale, matrix: tkhd.Matrix}
	if t.timescale == 0 {
		return nil, errors.Errorf("track %d: zero timescale", t.id)
	}

	stsd := gomp4.BoxPath{gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd()}
	switch handler {
	case "vide":
		t.format, t.avcc, err = d.readVideoEntry(trak, stsd)
	case "soun":
		t.format, err = d.readAudioEntry(trak, stsd)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "track %d", t.id)
	}
	return t, nil
}

func (d *MP4Demuxer) readVideoEntry(trak *gomp4.BoxInfo, stsd gomp4.BoxPath) (*Format, bool, error) {
	avcCPath := append(append(gomp4.BoxPath{}, stsd...), gomp4.BoxTypeAvc1(), gomp4.BoxTypeAvcC())
	boxes, err := gomp4.ExtractBoxWithPayload(d.r, trak, avcCPath)
	if err != nil {
		return nil, false, errors.Wrap(err, "read avcC")
	}
	if len(boxes) == 0 {
		// Not AVC. Report the track so it can be listed, but without CSD.
		if hevc, _ := gomp4.ExtractBox(d.r, trak, append(append(gomp4.BoxPath{}, stsd...), gomp4.StrToBoxType("hvc1"))); len(hevc) > 0 {
			return NewVideoFormat(MIMEVideoHEVC, 0, 0), false, nil
		}
		return NewVideoFormat("video/unknown", 0, 0), false, nil
	}

	avcC := boxes[0].Payload.(*gomp4.AVCDecoderConfiguration)
	if avcC.LengthSizeMinusOne != 3 {
		return nil, false, errors.Errorf("unsupported NAL length size %d", avcC.LengthSizeMinusOne+1)
	}
	if len(avcC.SequenceParameterSets) == 0 || len(avcC.PictureParameterSets) == 0 {
		return nil, false, errors.New("avcC without parameter sets")
	}
	sps := avcC.SequenceParameterSets[0].NALUnit
	pps := avcC.PictureParameterSets[0].NALUnit
	f, err := formatFromH264(sps, pps)
	return f, true, err
}

func (d *MP4Demuxer) readAudioEntry(trak *gomp4.BoxInfo, stsd gomp4.BoxPath) (*Format, error) {
	esdsPath := append(append(gomp4.BoxPath{}, stsd...), gomp4.BoxTypeMp4a(), gomp4.BoxTypeEsds())
	boxes, err := gomp4.ExtractBoxWithPayload(d.r, trak, esdsPath)
	if err != nil {
		return nil, errors.Wrap(err, "read esds")
	}
	if len(boxes) == 0 {
		opus, _ := gomp4.ExtractBox(d.r, trak, append(append(gomp4.BoxPath{}, stsd...), gomp4.StrToBoxType("Opus")))
		if len(opus) > 0 {
			return NewAudioFormat(MIMEAudioOpus, 48000, 2), nil
		}
		return NewAudioFormat("audio/unknown", 0, 0), nil
	}

	for _, desc := range boxes[0].Payload.(*gomp4.Esds).Descriptors {
		if desc.Tag == gomp4.DecSpecificInfoTag {
			return formatFromAudioConfig(desc.Data)
		}
	}
	return nil, errors.New("esds without decoder specific info")
}

// readSyncSamples returns the 1-based sync sample numbers from stss, or nil
// when every sample is a sync sample.
func (d *MP4Demuxer) readSyncSamples(trak *gomp4.BoxInfo) (map[uint32]bool, error) {
	boxes, err := gomp4.ExtractBoxWithPayload(d.r, trak, gomp4.BoxPath{
		gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStss(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "read stss")
	}
	if len(boxes) == 0 {
		return nil, nil
	}
	stss := boxes[0].Payload.(*gomp4.Stss)
	set := make(map[uint32]bool, len(stss.SampleNumber))
	for _, n := range stss.SampleNumber {
		set[n] = true
	}
	return set, nil
}

// readFragmented decodes the init segment and every fragment with the fmp4
// package. Payloads are kept in memory.
func (d *MP4Demuxer) readFragmented() error {
	if err := d.rejectProtectedEntries(); err != nil {
		return err
	}
	if _, err := d.r.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek input")
	}
	var init fmp4.Init
	if err := init.Unmarshal(d.r); err != nil {
		return errors.Wrap(err, "read init segment")
	}

	matrices, err := readTrackMatrices(d.r)
	if err != nil {
		return err
	}

	byID := make(map[int]int)
	for _, it := range init.Tracks {
		t := &mp4Track{id: uint32(it.ID), timescale: it.TimeScale, matrix: matrices[uint32(it.ID)]}
		switch c := it.Codec.(type) {
		case *mp4.CodecH264:
			t.format, err = formatFromH264(c.SPS, c.PPS)
			t.avcc = true
		case *mp4.CodecMPEG4Audio:
			t.format = NewAudioFormat(MIMEAudioAAC, c.Config.SampleRate, c.Config.ChannelCount)
			var asc []byte
			asc, err = c.Config.Marshal()
			t.format.CSD = [][]byte{asc}
		case *mp4.CodecOpus:
			t.format = NewAudioFormat(MIMEAudioOpus, 48000, c.ChannelCount)
		default:
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "track %d", it.ID)
		}
		if t.timescale == 0 {
			return errors.Errorf("track %d: zero timescale", it.ID)
		}
		byID[it.ID] = len(d.tracks)
		d.tracks = append(d.tracks, t)
	}

	body, err := d.fragmentBytes()
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	var parts fmp4.Parts
	if err := parts.Unmarshal(body); err != nil {
		return errors.Wrap(err, "read fragments")
	}

	for _, part := range parts {
		for _, pt := range part.Tracks {
			index, ok := byID[pt.ID]
			if !ok {
				continue
			}
			t := d.tracks[index]
			dts := int64(pt.BaseTime)
			for _, s := range pt.Samples {
				d.samples = append(d.samples, demuxedSample{
					track:  index,
					offset: int64(len(d.payloads)),
					size:   len(s.Payload),
					pts:    ticksToMicros(dts+int64(s.PTSOffset), t.timescale),
					sync:   !s.IsNonSyncSample,
				})
				d.payloads = append(d.payloads, s.Payload)
				dts += int64(s.Duration)
			}
			if end := ticksToMicros(dts, t.timescale); end > t.endUs {
				t.endUs = end
			}
		}
	}
	return nil
}

// rejectProtectedEntries fails with ErrEncryptedSource when any track uses
// an encv or enca sample entry. The fmp4 init parser does not know these
// entries and would otherwise fail with a parse error.
func (d *MP4Demuxer) rejectProtectedEntries() error {
	stsd := gomp4.BoxPath{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
		gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(), gomp4.BoxTypeStsd()}
	boxes, err := gomp4.ExtractBoxes(d.r, nil, []gomp4.BoxPath{
		append(append(gomp4.BoxPath{}, stsd...), gomp4.BoxTypeEncv()),
		append(append(gomp4.BoxPath{}, stsd...), gomp4.BoxTypeEnca()),
	})
	if err != nil {
		return errors.Wrap(err, "read sample entries")
	}
	if len(boxes) > 0 {
		return errors.Wrapf(ErrEncryptedSource, "%s sample entry", boxes[0].Type)
	}
	return nil
}

// fragmentBytes returns the file from the first moof box to the end of the
// last mdat box.
func (d *MP4Demuxer) fragmentBytes() ([]byte, error) {
	if _, err := d.r.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek input")
	}
	var start, end int64 = -1, -1
	_, err := gomp4.ReadBoxStructure(d.r, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoof():
			if start < 0 {
				start = int64(h.BoxInfo.Offset)
			}
		case gomp4.BoxTypeMdat():
			end = int64(h.BoxInfo.Offset + h.BoxInfo.Size)
		}
		return nil, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan boxes")
	}
	if start < 0 || end <= start {
		return nil, nil
	}

	body := make([]byte, end-start)
	if _, err := d.r.Seek(start, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "seek fragments")
	}
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, errors.Wrap(err, "read fragments")
	}
	return body, nil
}

// TrackCount implements Demuxer.
func (d *MP4Demuxer) TrackCount() int { return len(d.tracks) }

// TrackFormat implements Demuxer.
func (d *MP4Demuxer) TrackFormat(index int) *Format {
	if index < 0 || index >= len(d.tracks) {
		return nil
	}
	return d.tracks[index].format.Clone()
}

// SelectTrack implements Demuxer.
func (d *MP4Demuxer) SelectTrack(index int) error {
	if index < 0 || index >= len(d.tracks) {
		return errors.Wrapf(ErrInvalidArgument, "track index %d", index)
	}
	d.selected[index] = true
	return nil
}

// skip moves the read position to the next sample of a selected track.
func (d *MP4Demuxer) skip() {
	for d.pos < len(d.samples) && !d.selected[d.samples[d.pos].track] {
		d.pos++
	}
}

// PeekSample implements Demuxer.
func (d *MP4Demuxer) PeekSample() (int, *Sample, error) {
	d.skip()
	if d.pos >= len(d.samples) {
		return -1, nil, io.EOF
	}
	ds := d.samples[d.pos]

	var data []byte
	if d.fragmented {
		data = d.payloads[ds.offset]
	} else {
		data = make([]byte, ds.size)
		if _, err := d.r.Seek(ds.offset, io.SeekStart); err != nil {
			return -1, nil, errors.Wrap(err, "seek sample")
		}
		if _, err := io.ReadFull(d.r, data); err != nil {
			return -1, nil, errors.Wrap(err, "read sample")
		}
	}

	if d.tracks[ds.track].avcc {
		var au h264.AVCC
		if err := au.Unmarshal(data); err != nil {
			return -1, nil, errors.Wrap(err, "parse AVCC sample")
		}
		ab := h264.AnnexB(au)
		annexB, err := ab.Marshal()
		if err != nil {
			return -1, nil, errors.Wrap(err, "convert sample to Annex-B")
		}
		data = annexB
	}

	s := &Sample{Data: data, PTS: ds.pts}
	if ds.sync {
		s.Flags |= SampleFlagSync
	}
	return ds.track, s, nil
}

// Advance implements Demuxer.
func (d *MP4Demuxer) Advance() error {
	d.skip()
	if d.pos >= len(d.samples) {
		return io.EOF
	}
	d.pos++
	return nil
}

// Close implements Demuxer. The input handle is owned by the caller.
func (d *MP4Demuxer) Close() error {
	d.samples = nil
	d.payloads = nil
	return nil
}

// Duration implements MetadataRetriever.
func (d *MP4Demuxer) Duration() (time.Duration, error) {
	if d.durationUs <= 0 {
		return 0, errors.New("duration not available")
	}
	return time.Duration(d.durationUs) * time.Microsecond, nil
}

// Rotation implements MetadataRetriever. It reads the first video track's
// transformation matrix.
func (d *MP4Demuxer) Rotation() (int, error) {
	for _, t := range d.tracks {
		if t.format.IsVideo() {
			return rotationFromMatrix(t.matrix)
		}
	}
	return 0, nil
}

// formatFromH264 builds a video format from parameter sets.
func formatFromH264(sps, pps []byte) (*Format, error) {
	var s h264.SPS
	if err := s.Unmarshal(sps); err != nil {
		return nil, errors.Wrap(err, "parse SPS")
	}
	f := NewVideoFormat(MIMEVideoAVC, s.Width(), s.Height())
	f.FrameRate = s.FPS()
	f.CSD = [][]byte{append([]byte(nil), sps...), append([]byte(nil), pps...)}
	return f, nil
}

// formatFromAudioConfig builds an AAC format from an AudioSpecificConfig.
func formatFromAudioConfig(asc []byte) (*Format, error) {
	var conf mpeg4audio.AudioSpecificConfig
	if err := conf.Unmarshal(asc); err != nil {
		return nil, errors.Wrap(err, "parse AudioSpecificConfig")
	}
	f := NewAudioFormat(MIMEAudioAAC, conf.SampleRate, conf.ChannelCount)
	f.CSD = [][]byte{append([]byte(nil), asc...)}
	return f, nil
}

// ticksToMicros converts a timestamp in timescale units to microseconds.
func ticksToMicros(ticks int64, timescale uint32) int64 {
	ts := int64(timescale)
	return ticks/ts*1_000_000 + ticks%ts*1_000_000/ts
}

// microsToTicks converts microseconds to timescale units.
func microsToTicks(us int64, timescale uint32) int64 {
	ts := int64(timescale)
	return us/1_000_000*ts + us%1_000_000*ts/1_000_000
}

func errOrMissing(err error) error {
	if err != nil {
		return err
	}
	return errors.New("box missing")
}
