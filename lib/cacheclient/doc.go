// Copyright 2026 The narpush Authors
// SPDX-License-Identifier: Apache-2.0

// Package cacheclient speaks the binary cache service's upload
// protocol, a two-phase commit over HTTP:
//
//  1. [Client.Negotiate] submits a closure and the objects that make it
//     up. The service answers with a pending-closure id and the subset
//     of objects it does not already hold, each with a presigned
//     upload URL.
//  2. [Client.Upload] PUTs an object's bytes to its presigned URL with
//     an explicit Content-Length.
//  3. [Client.Complete] finalizes a pending closure once every one of
//     its pending objects is uploaded.
//
// Negotiate and Complete carry the bearer token; presigned uploads are
// unauthenticated. A pending closure that is never completed stays
// pending on the service and is invisible to cache readers, so an
// interrupted push leaves no inconsistent state.
//
// The client does not retry. Every non-2xx response is returned as a
// *[ProtocolError] carrying the status and response body. A Client is
// safe for concurrent use.
package cacheclient
