package model

type AspectRatio string

const (
	AspectPortrait  AspectRatio = "9:16"
	AspectLandscape AspectRatio = "16:9"
	AspectSquare    AspectRatio = "1:1"
)

// FPS is the frame rate every composition is rendered at.
const FPS = 30

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var aspectDimensions = map[AspectRatio]Dimensions{
	AspectPortrait:  {Width: 1080, Height: 1920},
	AspectLandscape: {Width: 1920, Height: 1080},
	AspectSquare:    {Width: 1080, Height: 1080},
}

func (a AspectRatio) Valid() bool {
	_, ok := aspectDimensions[a]
	return ok
}

// Dimensions maps an aspect ratio to output pixels. Unknown values render
// as portrait.
func (a AspectRatio) Dimensions() Dimensions {
	if d, ok := aspectDimensions[a]; ok {
		return d
	}
	return aspectDimensions[AspectPortrait]
}

// TotalFrames is the frame count for a composition of seconds length.
func TotalFrames(seconds int) int {
	return seconds * FPS
}
