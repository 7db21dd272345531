// Package delivery is the process on the far side of the shared segment. It
// owns the segment, drains the egress rings through the FEC encoder to SRT
// subscribers and feeds client input and encoder control back into the
// ingress ring and the video event tables.
package delivery
