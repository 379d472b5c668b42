// Package protocol implements the wire protocols spoken by the lab devices.
//
// Two device classes exist:
//
//   - ASCII line devices (the bank controller firmware with a prompt, the
//     stepper controller). Inbound lines carry a two-character tag:
//
//     "> " ready      "E " error     "C " ack      "! " state change
//     "X " event      "I " info      "M " status   "R " response
//
//   - Binary frame devices (the bank controller's byte-coded firmware).
//     Frames are delimited by a FrameCodec and carry
//     [command, parameter, response, value_hi, value_lo] tuples, switch
//     change notices (first byte 99) and multi-byte get replies.
//
// Both are turned into Events by a Decoder. Malformed input never stops a
// stream: it is passed to the decoder's invalid-data callback and skipped.
//
// Status payloads use a small fixed grammar (see ParseStatus), never an
// expression evaluator.
package protocol
