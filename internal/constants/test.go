package constants

import "time"

// Test Constants
//
// IMPORTANT: These constants are for testing only. DO NOT use in production code.

// Integration Test Timeout Constants
const (
	// TestIOTimeout bounds every read/write of the simulated client
	TestIOTimeout = 5 * time.Second

	// TestHeartbeatTimeout is a short heartbeat window for timeout tests
	TestHeartbeatTimeout = 150 * time.Millisecond

	// TestEventWait bounds waiting for a lifecycle event in tests
	TestEventWait = 3 * time.Second
)

// Concurrency Test Constants
const (
	// TestConcurrentClients is the number of concurrent clients for small load tests
	TestConcurrentClients = 10
)

// ReqLogin 0x2EE2 with the captured 209-byte body
const (
	TestReqLoginOpcode      uint16 = 0x2EE2
	TestReqLoginPayloadSize        = 209
)

// TestClientVersion is the version the simulated client reports in 0x07
const TestClientVersion uint16 = 0x0001
