//go:build !opencv

package features

// NewCVORB returns ErrBackendUnavailable; build with -tags opencv to enable
// the OpenCV backend.
func NewCVORB(ORBParams) (Detector[Binary], error) {
	return nil, ErrBackendUnavailable
}

// NewCVSIFT returns ErrBackendUnavailable; build with -tags opencv to enable
// the OpenCV backend.
func NewCVSIFT(int) (Detector[Float], error) {
	return nil, ErrBackendUnavailable
}
