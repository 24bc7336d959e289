// Package cloudapi provides the types, interfaces, and helpers shared by the
// cloud API request pipeline.
//
// # Overview
//
// A cloud-specific client declares query patterns (a verb, a path template and
// optional params, headers and body templates) and error/cache patterns. Each
// call names a pattern and passes a parameter bag; the pipeline renders the
// pattern into an HTTP request, sends it, retries transient failures, parses
// the response and returns a Result with metadata. The concrete pipeline lives
// in internal/pipeline and is exposed through the cloudclient package.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/cloudapi/pkg/cloudapi"
//	  "github.com/fivetwenty-io/cloudapi/pkg/cloudclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := cloudclient.New(ctx, &cloudapi.Config{
//	    Endpoint:    "https://ec2.example.com",
//	    Credentials: map[string]string{"access_key": "...", "secret_key": "..."},
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  _ = cli.RegisterPattern(cloudapi.QueryPattern{
//	    Name: "DescribeInstance",
//	    Verb: "get",
//	    Path: "instances/{:InstanceId}",
//	  })
//
//	  res, err := cli.Call(ctx, "DescribeInstance", cloudapi.CallArgs{
//	    Params: map[string]any{"InstanceId": "i-123"},
//	  })
//	  if err != nil { log.Fatal(err) }
//	  _ = res.Body
//	}
//
// # Templates
//
// Pattern templates are plain Go values: maps, slices, strings and literals.
// A Placeholder is replaced by the parameter of the same name, and a string
// may embed "{:Name}" tokens. Mapping keys understand three suffixes:
// "Key{:Other}" (replacement), "Key[]" / "Key[{:Items}]" (collection) and
// "Key{!remove-if-blank}". The None sentinel removes a key from the output.
//
// # Errors
//
// A call returns a Result or exactly one of ConfigurationError,
// ConnectionError, HTTPError, CacheHitError or ExhaustedError. Helpers such as
// IsHTTPError, IsCacheHit and IsExhausted branch on them.
//
// # Storage
//
// Cache records live in a Storage. MemoryStorage is used per worker by
// default; NATSKVStorage shares records across processes through a JetStream
// key/value bucket.
package cloudapi
