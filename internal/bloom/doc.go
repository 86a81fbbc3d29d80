// Package bloom implements a Bloom filter whose bit array lives in a shared
// bit store rather than in process memory.
//
// The filter is built from three pieces:
//
//   - PlanFilterParameters turns an expected cardinality and a target false
//     positive rate into a bit array size and hash count.
//   - PositionGenerator maps an item to HashCount offsets using two murmur3
//     evaluations combined as h1 + i*h2 (Kirsch and Mitzenmacher, "Less
//     Hashing, Same Performance").
//   - Engine sends those offsets to a common.BitStore in one batched round
//     trip per call.
//
// Writes only ever set bits, so concurrent Add calls from any number of
// processes commute and converge on the same array. Replicas that share a
// handle must be built from identical FilterParameters; VerifyParameters
// stores a fingerprint next to the array to catch deployments that do not.
package bloom
