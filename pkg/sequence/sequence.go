// Package sequence implements the gap-tolerant, in-order delivery queue
// that underlies both directions of every route: SequenceNumber, the
// opaque per-direction counter, and ParcelQueue, the structure that lets a
// Router push parcels at arbitrary sequence numbers (parcels can race
// ahead of earlier ones across a bypass event) while still handing them to
// the application in order.
package sequence

import "fmt"

// Number is a 64-bit sequence number, unique within one direction of one
// route. Comparisons are total.
type Number uint64

// String implements fmt.Stringer.
func (n Number) String() string {
	return fmt.Sprintf("%d", uint64(n))
}
