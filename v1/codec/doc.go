// Package codec defines the value codecs used by keyspace collections.
// A codec validates, encodes and decodes one value type; the variant
// (processor function set or self-describing value type) is resolved once
// when the codec is built, never per call.
package codec
