package transcoder

import (
	"github.com/pkg/errors"
)

const (
	fixed16One = 0x10000    // 1.0 in 16.16
	fixed2One  = 0x40000000 // 1.0 in 2.30
)

// rotationMatrices maps clockwise display rotations to tkhd matrices
// {a, b, u, c, d, v, x, y, w}.
var rotationMatrices = map[int][9]int32{
	0:   {fixed16One, 0, 0, 0, fixed16One, 0, 0, 0, fixed2One},
	90:  {0, fixed16One, 0, -fixed16One, 0, 0, 0, 0, fixed2One},
	180: {-fixed16One, 0, 0, 0, -fixed16One, 0, 0, 0, fixed2One},
	270: {0, -fixed16One, 0, fixed16One, 0, 0, 0, 0, fixed2One},
}

// rotationFromMatrix returns the rotation a tkhd matrix encodes. Matrices
// that scale, skew or rotate by other angles are rejected.
func rotationFromMatrix(m [9]int32) (int, error) {
	if m == ([9]int32{}) {
		return 0, nil
	}
	for deg, rm := range rotationMatrices {
		if m[0] == rm[0] && m[1] == rm[1] && m[3] == rm[3] && m[4] == rm[4] {
			return deg, nil
		}
	}
	return 0, errors.Errorf("unsupported transformation matrix %v", m)
}

// matrixForRotation returns the tkhd matrix for a rotation in degrees.
func matrixForRotation(degrees int) ([9]int32, error) {
	m, ok := rotationMatrices[degrees]
	if !ok {
		return [9]int32{}, errors.Wrapf(ErrInvalidArgument, "rotation %d", degrees)
	}
	return m, nil
}

// validRotation reports whether degrees is one of 0, 90, 180, 270.
func validRotation(degrees int) bool {
	_, ok := rotationMatrices[degrees]
	return ok
}
