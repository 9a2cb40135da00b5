// Package domain defines the persistent record model, the repository and
// document store contracts, and the error taxonomy shared by docrepo.
//
// A record is any struct that embeds Base. A record without Metadata is
// transient; it becomes persistent once a store assigns it an identity.
package domain
