package export

import (
	"fmt"
	"math"
	"strings"
)

// DefaultFrameRate is used when the caller gives none.
const DefaultFrameRate = 30.0

// GenerateEDL renders clips as a CMX3600 EDL. Clips are laid end to end on
// the record timeline starting at zero.
func GenerateEDL(clips []Clip, title string, frameRate float64) string {
	if frameRate <= 0 {
		frameRate = DefaultFrameRate
	}
	fps := int(math.Round(frameRate))

	lines := []string{"TITLE: " + title}
	if isDropFrame(frameRate) {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	var recordOffset float64
	for i, c := range clips {
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V",
				Timecode(c.Start, fps), Timecode(c.End, fps),
				Timecode(recordOffset, fps), Timecode(recordOffset+c.Duration(), fps)),
			"* FROM CLIP NAME:  "+c.Name,
			"* MEDIA PATH:  "+c.MediaPath,
		)
		recordOffset += c.Duration()
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func isDropFrame(frameRate float64) bool {
	return math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01
}

// Timecode formats seconds as HH:MM:SS:FF at fps frames per second.
func Timecode(seconds float64, fps int) string {
	if fps <= 0 {
		fps = int(DefaultFrameRate)
	}
	totalFrames := int(math.Round(seconds * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, frames)
}
