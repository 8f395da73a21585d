package physics

import "math"

// Vec3 is a lightweight value-type vector used by every simulation phase.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Canonical reference axes.
var (
	AxisX   = Vec3{X: 1}
	AxisY   = Vec3{Y: 1}
	AxisZ   = Vec3{Z: 1}
	Forward = Vec3{Z: -1}
)

// Add returns the component wise sum of two vectors.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub returns the difference between two vectors.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Scale multiplies the vector by a scalar.
func (v Vec3) Scale(scalar float64) Vec3 {
	return Vec3{X: v.X * scalar, Y: v.Y * scalar, Z: v.Z * scalar}
}

// AddScaled returns v + other*scalar.
func (v Vec3) AddScaled(other Vec3, scalar float64) Vec3 {
	return Vec3{X: v.X + other.X*scalar, Y: v.Y + other.Y*scalar, Z: v.Z + other.Z*scalar}
}

// Dot returns the scalar dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// Cross returns the right-handed cross product v × other.
func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// LengthSquared returns the squared magnitude, avoiding a square root for comparisons.
func (v Vec3) LengthSquared() float64 {
	return v.Dot(v)
}

// Length computes the Euclidean norm of the vector.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.Dot(v))
}

// Distance returns the Euclidean distance between two points.
func (v Vec3) Distance(other Vec3) float64 {
	return v.Sub(other).Length()
}

// Normalize returns a unit vector in the same direction, or the zero vector when v has
// no direction.
func (v Vec3) Normalize() Vec3 {
	length := v.Length()
	if length == 0 {
		return Vec3{}
	}
	inv := 1.0 / length
	return Vec3{X: v.X * inv, Y: v.Y * inv, Z: v.Z * inv}
}

// ClampMagnitude rescales v to limit when its magnitude exceeds it, preserving direction.
func (v Vec3) ClampMagnitude(limit float64) Vec3 {
	//1.- Skip clamping when the limit disables the guard.
	if !(limit > 0) {
		return v
	}
	magnitudeSq := v.LengthSquared()
	if magnitudeSq == 0 || magnitudeSq <= limit*limit {
		return v
	}
	//2.- Scale each axis uniformly so the resulting magnitude matches the limit.
	return v.Scale(limit / math.Sqrt(magnitudeSq))
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}
