package workerchannel_test

import (
	"fmt"
	"sync"
	"testing"

	workerchannel "github.com/buke/worker-channel"
	gojahandler "github.com/buke/worker-channel/handlers/goja"
	"github.com/stretchr/testify/require"
)

// TestIntegration_ChannelWithGoja tests basic integration of the channel with the Goja handler.
func TestIntegration_ChannelWithGoja(t *testing.T) {
	greetScript := &gojahandler.Script{
		FileName: "hello.js",
		Content:  `function hello(name) { return "Hello, " + name + "!"; }`,
	}
	channel, err := workerchannel.NewChannel(
		workerchannel.WithHandler(gojahandler.NewFactory(
			gojahandler.WithScript(greetScript),
		)),
	)
	require.NoError(t, err)
	require.NotNil(t, channel)

	require.NoError(t, channel.WaitReady())

	// Call the "hello" function defined by the script
	resp, err := channel.Request(workerchannel.Action("hello"), "Goja")
	require.NoError(t, err)
	require.NotNil(t, resp)
	require.Equal(t, "Hello, Goja!", resp.Data)

	channel.Terminate()
}

// TestIntegration_ChannelWithGoja_ConcurrentRequests tests that concurrent
// callers get their own responses back through a single unit.
func TestIntegration_ChannelWithGoja_ConcurrentRequests(t *testing.T) {
	greetScript := &gojahandler.Script{
		FileName: "hello.js",
		Content:  `function hello(name) { return "Hello, " + name + "!"; }`,
	}
	channel, err := workerchannel.NewChannel(
		workerchannel.WithHandler(gojahandler.NewFactory(
			gojahandler.WithScript(greetScript),
		)),
	)
	require.NoError(t, err)
	require.NotNil(t, channel)
	defer channel.Terminate()

	require.NoError(t, channel.WaitReady())

	const (
		goroutineCount       = 8
		requestsPerGoroutine = 32
		totalRequests        = goroutineCount * requestsPerGoroutine
	)
	results := make([]string, totalRequests)
	errs := make([]error, totalRequests)

	var wg sync.WaitGroup
	wg.Add(goroutineCount)
	for g := 0; g < goroutineCount; g++ {
		go func(gid int) {
			defer wg.Done()
			for i := 0; i < requestsPerGoroutine; i++ {
				idx := gid*requestsPerGoroutine + i
				resp, err := channel.Request(
					workerchannel.Action("hello"),
					fmt.Sprintf("GojaUser%d", idx),
				)
				if err == nil && resp != nil {
					results[idx] = fmt.Sprintf("%v", resp.Data)
				}
				errs[idx] = err
			}
		}(g)
	}
	wg.Wait()

	// Verify all results and errors
	for i := 0; i < totalRequests; i++ {
		require.NoError(t, errs[i], "request %d failed: %v", i, errs[i])
		require.Equal(t, fmt.Sprintf("Hello, GojaUser%d!", i), results[i])
	}
}

// TestIntegration_ChannelWithGoja_HandlerError tests that a JS error
// settles the request as a task failure.
func TestIntegration_ChannelWithGoja_HandlerError(t *testing.T) {
	failScript := &gojahandler.Script{
		FileName: "fail.js",
		Content:  `function fail() { throw new Error("script blew up"); }`,
	}
	channel, err := workerchannel.NewChannel(
		workerchannel.WithHandler(gojahandler.NewFactory(
			gojahandler.WithScript(failScript),
		)),
	)
	require.NoError(t, err)
	defer channel.Terminate()

	require.NoError(t, channel.WaitReady())

	_, err = channel.Request(workerchannel.Action("fail"), nil)
	require.Error(t, err)
	require.Equal(t, workerchannel.CodeTaskFailed, workerchannel.CodeOf(err))
	require.Contains(t, err.Error(), "js execution error: script blew up")
}
