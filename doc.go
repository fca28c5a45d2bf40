// Package transcoder re-encodes the video of a media file into a fragmented
// MP4, passing the audio track through unchanged.
//
// Key pieces include:
//   - Engine: configures a job, runs it to completion and reports progress
//   - TrackPipeline with two variants, ReencodePipeline and PassThroughPipeline
//   - Sequencer: holds output samples back until every track format is known
//   - Demuxers for MP4/fMP4 and IVF, and an fMP4 muxer
//   - FormatStrategy presets and the MP4Profile format validator
//
// # Architecture
//
//	Video: Demuxer -> VideoDecoder -> VideoScaler -> VideoEncoder -> Sequencer -> Muxer
//	Audio: Demuxer -> Sequencer -> Muxer
//
// The engine steps every pipeline from the goroutine that called Run. A step
// moves at most one unit of work; when no pipeline moved anything the engine
// sleeps for a short backoff, which is also where cancellation is observed.
//
// # Native Libraries
//
// H.264 is provided by libmedia_h264 (x264 encoder, OpenH264 decoder) loaded
// at runtime through purego. Set TRANSCODER_LIB_PATH to the directory
// containing it, or TRANSCODER_H264_LIB to the library file. VP8 and VP9
// inputs are decoded by libmedia_vpx, found the same way or through
// TRANSCODER_VPX_LIB.
//
// # Build Tags
//
//   - noh264: build without the native H.264 provider
//   - novpx: build without the VP8/VP9 decoder
package transcoder
