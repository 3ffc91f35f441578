package kyc

import "time"

// SimulatedVideoCapture stands in for the camera flow. Output depends only on
// the capture time.
func SimulatedVideoCapture(at time.Time) VideoKYCMetadata {
	return VideoKYCMetadata{
		Submitted:       true,
		DurationSeconds: 12,
		FaceDetected:    true,
		LivenessCheck:   true,
		LightingScore:   0.86,
		FaceMatchScore:  0.92,
		Timestamp:       at.UTC(),
	}
}
