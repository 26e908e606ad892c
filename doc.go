// Package ftp implements an FTP client built around a single serialized
// command/data orchestration engine: one control connection, a Request
// queue, and a passive-mode data-channel pipeline with optional
// throttling and MODE Z compression.
//
// # Overview
//
//   - Plain FTP, explicit TLS (AUTH TLS) and implicit TLS (port 990)
//   - Passive-mode transfers only; active mode (PORT/EPRT) is out of scope
//   - FEAT-driven capability gating for MODE Z, MLSD, MFMT, SITE MKDIR/RMDIR
//   - Per-transfer bandwidth limiting and optional MODE Z compression
//   - TLS session reuse between the control and data channels
//
// # Basic Usage
//
//	client, err := ftp.Dial("ftp.example.com:21", ftp.WithCredentials("anon", "a@b"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Quit()
//
//	entries, err := client.List("/pub", false)
//
// # TLS
//
//	client, err := ftp.Dial("ftp.example.com:21",
//	    ftp.WithExplicitTLS(&tls.Config{ServerName: "ftp.example.com"}),
//	)
//
//	client, err := ftp.Dial("ftp.example.com:990",
//	    ftp.WithImplicitTLS(&tls.Config{ServerName: "ftp.example.com"}),
//	)
//
// Both modes reuse the control connection's TLS session on every data
// channel automatically (*tls.Config.ClientSessionCache), which most
// FTPS servers require.
//
// # File Transfers
//
//	if err := client.Store("remote.txt", file); err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Retrieve("remote.txt", file); err != nil {
//	    log.Fatal(err)
//	}
//
// # Bandwidth Limiting and Compression
//
//	client, err := ftp.Dial("ftp.example.com:21",
//	    ftp.WithDownloadLimit(10*1024),
//	    ftp.WithCompression(6),
//	)
//
// # Error Handling
//
// Errors are typed values (ConnectFailed, TLSNegotiationFailed,
// LoginFailed, ProtocolError, PassiveUnavailable, DataConnectionTimeout,
// ServerRejected, InvalidInput, StreamError, UnsupportedFeature). Use
// errors.As to recover protocol details:
//
//	var rejected *ftp.ServerRejected
//	if errors.As(err, &rejected) {
//	    fmt.Println(rejected.Code, rejected.Message)
//	}
package ftp
