// ABOUTME: Thread-safe buffer of the latest ARKit blendshape weights
// ABOUTME: Written by the playback loop and read from a render loop
package lipsync

import (
	"sync"

	"github.com/talktome/voxta-go/pkg/protocol"
)

// CurveNames are the ARKit blendshape locations in wire order
var CurveNames = [CurveCount]string{
	"EyeBlinkLeft", "EyeLookDownLeft", "EyeLookInLeft", "EyeLookOutLeft", "EyeLookUpLeft",
	"EyeSquintLeft", "EyeWideLeft",
	"EyeBlinkRight", "EyeLookDownRight", "EyeLookInRight", "EyeLookOutRight", "EyeLookUpRight",
	"EyeSquintRight", "EyeWideRight",
	"JawForward", "JawLeft", "JawRight", "JawOpen",
	"MouthClose", "MouthFunnel", "MouthPucker", "MouthLeft", "MouthRight",
	"MouthSmileLeft", "MouthSmileRight", "MouthFrownLeft", "MouthFrownRight",
	"MouthDimpleLeft", "MouthDimpleRight", "MouthStretchLeft", "MouthStretchRight",
	"MouthRollLower", "MouthRollUpper", "MouthShrugLower", "MouthShrugUpper",
	"MouthPressLeft", "MouthPressRight", "MouthLowerDownLeft", "MouthLowerDownRight",
	"MouthUpperUpLeft", "MouthUpperUpRight",
	"BrowDownLeft", "BrowDownRight", "BrowInnerUp", "BrowOuterUpLeft", "BrowOuterUpRight",
	"CheekPuff", "CheekSquintLeft", "CheekSquintRight",
	"NoseSneerLeft", "NoseSneerRight",
	"TongueOut",
}

// CurveCount is the number of ARKit blendshapes
const CurveCount = 52

// CurveBuffer keeps the most recent pose
type CurveBuffer struct {
	mu      sync.RWMutex
	weights [CurveCount]float32
	neutral bool
	applied int64
}

// NewCurveBuffer creates a buffer in the neutral pose
func NewCurveBuffer() *CurveBuffer {
	return &CurveBuffer{neutral: true}
}

// ApplyFrame stores the frame weights; extra weights are ignored and missing ones are zero
func (c *CurveBuffer) ApplyFrame(frame protocol.AnimationFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.weights = [CurveCount]float32{}
	copy(c.weights[:], frame.Weights)
	c.neutral = false
	c.applied++
}

// Reset forces the neutral pose until the next frame
func (c *CurveBuffer) Reset() {
	c.mu.Lock()
	c.weights = [CurveCount]float32{}
	c.neutral = true
	c.mu.Unlock()
}

// Weights returns a copy of the current weights
func (c *CurveBuffer) Weights() []float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]float32, CurveCount)
	copy(out, c.weights[:])
	return out
}

// Curve returns one weight by ARKit name
func (c *CurveBuffer) Curve(name string) (float32, bool) {
	for i, n := range CurveNames {
		if n == name {
			c.mu.RLock()
			defer c.mu.RUnlock()
			return c.weights[i], true
		}
	}
	return 0, false
}

// Neutral reports whether the buffer is in the forced neutral pose
func (c *CurveBuffer) Neutral() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.neutral
}

// Applied returns the number of frames applied
func (c *CurveBuffer) Applied() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.applied
}
