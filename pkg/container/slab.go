package container

import "fmt"

// ============================================================================
// Slab Selection
// ============================================================================

// Slab is an n-dimensional rectangular selection into a field payload: the
// element at coordinate c is selected iff Start[i] <= c[i] < Start[i]+Count[i]
// for every axis i. The rank must match the field's rank; a scalar field is
// addressed with an empty slab.
//
// Payloads are laid out row-major (last axis fastest), so a slab decomposes
// into contiguous byte runs of Count[rank-1] elements each (see Runs).
type Slab struct {
	// Start is the first selected coordinate along each axis
	Start Shape `json:"start"`

	// Count is the number of selected elements along each axis
	Count Shape `json:"count"`
}

// WholeSlab returns the slab selecting the entire extent of shape.
func WholeSlab(shape Shape) Slab {
	return Slab{
		Start: make(Shape, len(shape)),
		Count: shape.Clone(),
	}
}

// NumElements returns the number of elements the slab selects.
func (s Slab) NumElements() uint64 {
	if len(s.Count) == 0 {
		return 1
	}
	return s.Count.NumElements()
}

// End returns Start+Count along the given axis.
func (s Slab) End(axis int) uint64 {
	return s.Start[axis] + s.Count[axis]
}

// Validate checks the slab against a field shape for reading: the rank must
// match and the selection must lie inside the current extent.
//
// Returns ErrOutOfBounds when the selection exceeds the extent and
// ErrInvalidArgument for rank mismatches or zero counts.
func (s Slab) Validate(shape Shape) error {
	if len(s.Start) != len(shape) || len(s.Count) != len(shape) {
		return NewError(ErrInvalidArgument,
			fmt.Sprintf("slab rank %d does not match field rank %d", len(s.Count), len(shape)), "")
	}
	for i := range shape {
		if s.Count[i] == 0 {
			return NewError(ErrInvalidArgument,
				fmt.Sprintf("slab count is zero along axis %d", i), "")
		}
		if s.End(i) > shape[i] {
			return NewError(ErrOutOfBounds,
				fmt.Sprintf("slab [%d:%d) exceeds extent %d along axis %d",
					s.Start[i], s.End(i), shape[i], i), "")
		}
	}
	return nil
}

// Run is a contiguous byte range of a field's linear row-major payload.
type Run struct {
	// Offset is the byte offset from the start of the payload
	Offset uint64

	// Length is the run length in bytes
	Length uint64
}

// Runs decomposes the slab into contiguous byte runs over the row-major
// payload of a field with the given shape and element size.
//
// Runs are produced in ascending offset order: within one write call slabs
// land in the order issued, so a store that applies runs sequentially
// satisfies the ordering contract. The slab must already be validated (or
// extent-checked for writes) against shape.
func (s Slab) Runs(shape Shape, elemSize int) []Run {
	esize := uint64(elemSize)

	// Scalar: a single element at offset zero.
	if len(shape) == 0 {
		return []Run{{Offset: 0, Length: esize}}
	}

	// Row-major strides in elements.
	strides := make([]uint64, len(shape))
	strides[len(shape)-1] = 1
	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}

	last := len(shape) - 1
	runLen := s.Count[last] * esize
	numRuns := uint64(1)
	for i := 0; i < last; i++ {
		numRuns *= s.Count[i]
	}

	// Collapse fully-selected trailing axes into longer runs. When the
	// slab covers whole axes at the tail, adjacent runs are contiguous
	// and a single larger run avoids per-row store round trips.
	collapse := last
	for collapse > 0 && s.Start[collapse] == 0 && s.Count[collapse] == shape[collapse] {
		collapse--
	}
	if collapse < last {
		runLen = esize
		for i := collapse; i <= last; i++ {
			runLen *= s.Count[i]
		}
		numRuns = 1
		for i := 0; i < collapse; i++ {
			numRuns *= s.Count[i]
		}
		last = collapse
	}

	runs := make([]Run, 0, numRuns)
	coord := make([]uint64, last) // odometer over axes before the run axis

	for {
		var off uint64
		for i := 0; i < last; i++ {
			off += (s.Start[i] + coord[i]) * strides[i]
		}
		off += s.Start[last] * strides[last]
		runs = append(runs, Run{Offset: off * esize, Length: runLen})

		// Advance the odometer.
		i := last - 1
		for ; i >= 0; i-- {
			coord[i]++
			if coord[i] < s.Count[i] {
				break
			}
			coord[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return runs
}

// ============================================================================
// Write Extent Checking
// ============================================================================

// CheckWriteExtent validates a slab for writing against a field entry.
//
// Unlike read validation, a write may extend the field along its first axis
// when the entry's maximum shape allows it: the returned shape is the grown
// extent (equal to the current shape when no growth occurred). Exceeding a
// bounded maximum shape, or any non-leading axis, fails with ErrShape.
//
// Only the leading axis of a field may be declared growable (enforced at
// creation), which keeps the row-major linear layout stable under growth:
// appending along axis 0 never re-strides existing elements.
func CheckWriteExtent(entry *Entry, s Slab) (Shape, error) {
	shape := entry.Shape
	if len(s.Start) != len(shape) || len(s.Count) != len(shape) {
		return nil, NewError(ErrInvalidArgument,
			fmt.Sprintf("slab rank %d does not match field rank %d", len(s.Count), len(shape)),
			entry.Path)
	}
	for i := range shape {
		if s.Count[i] == 0 {
			return nil, NewError(ErrInvalidArgument,
				fmt.Sprintf("slab count is zero along axis %d", i), entry.Path)
		}
	}

	newShape := shape.Clone()
	for i := range shape {
		end := s.End(i)
		if end <= shape[i] {
			continue
		}
		if i != 0 || !entry.Growable(0) {
			return nil, NewError(ErrShape,
				fmt.Sprintf("write [%d:%d) exceeds extent %d along non-growable axis %d",
					s.Start[i], end, shape[i], i), entry.Path)
		}
		if len(entry.MaxShape) > 0 && entry.MaxShape[0] != Unlimited && end > entry.MaxShape[0] {
			return nil, NewError(ErrShape,
				fmt.Sprintf("write [%d:%d) exceeds maximum extent %d along axis 0",
					s.Start[0], end, entry.MaxShape[0]), entry.Path)
		}
		newShape[0] = end
	}
	return newShape, nil
}

// ValidateFieldDecl checks a field declaration at creation time.
//
// Rules: fixed-size dtypes require a fully bounded shape with non-zero
// extents (growth happens through MaxShape); MaxShape must have the same
// rank as Shape with per-axis maxima >= the initial extent; only axis 0 may
// exceed the initial extent or be Unlimited. String fields must be scalar.
func ValidateFieldDecl(path string, dtype Dtype, shape, maxShape Shape) error {
	if dtype == DtypeString {
		if len(shape) != 0 || len(maxShape) != 0 {
			return NewError(ErrInvalidArgument, "string fields must be scalar", path)
		}
		return nil
	}
	if dtype.Size() == 0 {
		return NewError(ErrInvalidArgument, "unknown dtype", path)
	}
	for i, dim := range shape {
		if dim == 0 {
			return NewError(ErrInvalidArgument,
				fmt.Sprintf("zero extent along axis %d", i), path)
		}
	}
	if len(maxShape) == 0 {
		return nil
	}
	if len(maxShape) != len(shape) {
		return NewError(ErrInvalidArgument,
			fmt.Sprintf("max shape rank %d does not match shape rank %d",
				len(maxShape), len(shape)), path)
	}
	for i := range maxShape {
		if maxShape[i] != Unlimited && maxShape[i] < shape[i] {
			return NewError(ErrInvalidArgument,
				fmt.Sprintf("max extent %d below initial extent %d along axis %d",
					maxShape[i], shape[i], i), path)
		}
		if i > 0 && maxShape[i] != shape[i] {
			return NewError(ErrInvalidArgument,
				"only the first axis may be growable", path)
		}
	}
	return nil
}
