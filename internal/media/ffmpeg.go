package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/google/renameio/v2"

	"github.com/MimeLyc/profile-letterbox/pkg/log"
)

// Runner executes an external program and returns its stdout.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs found on PATH.
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmdPath, err := exec.LookPath(name)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, cmdPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s failed: %w, stderr: %s", name, err, lastLines(stderr.String(), 5))
	}
	return stdout.Bytes(), nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// VideoInfo is the subset of ffprobe output the normalizer needs.
type VideoInfo struct {
	Width     int
	Height    int
	Duration  float64
	FrameRate string
}

type ffmpeg struct {
	ffmpegCmd   string
	ffprobeCmd  string
	runner      Runner
	tolerance   float64
	canvasWidth int
}

func newFfmpeg(ffmpegCmd, ffprobeCmd string, runner Runner, tolerance float64, canvasWidth int) ffmpeg {
	if ffmpegCmd == "" {
		ffmpegCmd = "ffmpeg"
	}
	if ffprobeCmd == "" {
		ffprobeCmd = "ffprobe"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return ffmpeg{
		ffmpegCmd:   ffmpegCmd,
		ffprobeCmd:  ffprobeCmd,
		runner:      runner,
		tolerance:   tolerance,
		canvasWidth: canvasWidth,
	}
}

// Normalize crops the video toward 9:16 and composites it onto a white canvas, in place.
// With skip set the video is probed only.
func (ff ffmpeg) Normalize(ctx context.Context, path string, skip bool) (Outcome, error) {
	info, err := ff.Probe(ctx, path)
	if err != nil {
		return "", err
	}
	if skip {
		log.Debug("Video normalization bypassed for %s (%dx%d)", path, info.Width, info.Height)
		return OutcomeInspected, nil
	}
	if IsConformant(info.Width, info.Height, ff.tolerance) {
		log.Debug("Skipping %s: already 9:16 (%dx%d)", path, info.Width, info.Height)
		return OutcomeUntouched, nil
	}

	plan := PlanVideo(info.Width, info.Height, ff.canvasWidth)

	pending, err := renameio.NewPendingFile(path, renameio.WithExistingPermissions())
	if err != nil {
		return "", fmt.Errorf("create pending video: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			log.Debug("cleanup pending video %s: %v", path, err)
		}
	}()

	if _, err := ff.runner.Output(ctx, ff.ffmpegCmd, ff.letterboxArgs(path, pending.Name(), plan, info)...); err != nil {
		return "", fmt.Errorf("letterbox video %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("replace video %s: %w", path, err)
	}

	log.Debug("Letterboxed video %s from %dx%d onto %dx%d", path, info.Width, info.Height, plan.CanvasWidth, plan.CanvasHeight)
	return OutcomeRewritten, nil
}

func (ff ffmpeg) Probe(ctx context.Context, path string) (VideoInfo, error) {
	output, err := ff.runner.Output(ctx, ff.ffprobeCmd, ff.probeArgs(path)...)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("probe video %s: %w", path, err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (VideoInfo, error) {
	var probeResult struct {
		Streams []struct {
			Width      int    `json:"width"`
			Height     int    `json:"height"`
			RFrameRate string `json:"r_frame_rate"`
			Tags       struct {
				Rotate string `json:"rotate"`
			} `json:"tags"`
			SideDataList []struct {
				Rotation int `json:"rotation"`
			} `json:"side_data_list"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(output, &probeResult); err != nil {
		return VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(probeResult.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream found")
	}

	stream := probeResult.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("invalid video dimensions %dx%d", stream.Width, stream.Height)
	}

	info := VideoInfo{
		Width:     stream.Width,
		Height:    stream.Height,
		FrameRate: stream.RFrameRate,
	}
	if d, err := strconv.ParseFloat(probeResult.Format.Duration, 64); err == nil {
		info.Duration = d
	}

	// ffmpeg autorotates on decode, so quarter turns swap the effective dimensions.
	rotation, _ := strconv.Atoi(stream.Tags.Rotate)
	for _, sd := range stream.SideDataList {
		if sd.Rotation != 0 {
			rotation = sd.Rotation
		}
	}
	if rotation%180 != 0 {
		info.Width, info.Height = info.Height, info.Width
	}
	return info, nil
}

func (ffmpeg) probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate:stream_tags=rotate:stream_side_data=rotation:format=duration",
		"-of", "json",
		path,
	}
}

func (ffmpeg) letterboxArgs(input, output string, plan VideoPlan, info VideoInfo) []string {
	background := fmt.Sprintf("color=c=white:s=%dx%d", plan.CanvasWidth, plan.CanvasHeight)
	if info.FrameRate != "" && info.FrameRate != "0/0" {
		background += ":r=" + info.FrameRate
	}
	filter := fmt.Sprintf(
		"%s[bg];[0:v]crop=w=%d:h=%d:x=%d:y=%d[fg];[bg][fg]overlay=x=%d:y=%d:shortest=1,format=yuv420p[v]",
		background,
		plan.CropWidth, plan.CropHeight, plan.CropX, plan.CropY,
		plan.OffsetX, plan.OffsetY,
	)
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-filter_complex", filter,
		"-map", "[v]",
		"-map", "0:a?",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-f", "mp4", // the pending file has no extension to infer the muxer from
		output,
	}
}
