package webhook

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/rs/zerolog"

	"github.com/avku/reports-bot/internal/publish"
	"github.com/avku/reports-bot/internal/telegram"
)

// Processor handles one update end to end.
type Processor interface {
	HandleUpdate(ctx context.Context, u *telegram.Update) (publish.Outcome, error)
}

// Dispatcher hands a verified update to its processor. raw is the update
// body as received.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw []byte, u *telegram.Update) error
}

// InlineDispatcher processes the update before the webhook answers.
type InlineDispatcher struct {
	Processor Processor
}

func (d InlineDispatcher) Dispatch(ctx context.Context, _ []byte, u *telegram.Update) error {
	// Errors have already been reported to the chat and logged.
	_, _ = d.Processor.HandleUpdate(ctx, u)
	return nil
}

// GoroutineDispatcher processes updates in background goroutines that
// outlive the request. Wait blocks until all of them finish.
type GoroutineDispatcher struct {
	processor Processor
	wg        sync.WaitGroup
}

func NewGoroutineDispatcher(p Processor) *GoroutineDispatcher {
	return &GoroutineDispatcher{processor: p}
}

func (d *GoroutineDispatcher) Dispatch(ctx context.Context, _ []byte, u *telegram.Update) error {
	ctx = context.WithoutCancel(ctx)
	d.wg.Go(func() {
		_, _ = d.processor.HandleUpdate(ctx, u)
	})
	return nil
}

// Wait blocks until every dispatched update has been processed.
func (d *GoroutineDispatcher) Wait() {
	d.wg.Wait()
}

// InvokeAPI is the part of the Lambda client the dispatcher uses.
type InvokeAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaDispatcher sends the raw update to the worker function as an
// asynchronous (Event) invocation. When the invocation fails and a Fallback
// is set, the update is processed by the fallback instead.
type LambdaDispatcher struct {
	client   InvokeAPI
	function string
	Fallback Dispatcher
}

func NewLambdaDispatcher(client InvokeAPI, function string) *LambdaDispatcher {
	return &LambdaDispatcher{client: client, function: function}
}

func (d *LambdaDispatcher) Dispatch(ctx context.Context, raw []byte, u *telegram.Update) error {
	logger := zerolog.Ctx(ctx)
	out, err := d.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(d.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        raw,
	})
	if err == nil && out.StatusCode != 202 {
		err = fmt.Errorf("worker invoke returned status %d", out.StatusCode)
	}
	if err == nil {
		logger.Debug().Str("function", d.function).Msg("Update handed to worker")
		return nil
	}
	if d.Fallback == nil {
		return fmt.Errorf("invoke %s: %w", d.function, err)
	}
	logger.Warn().Err(err).Str("function", d.function).Msg("Worker invoke failed; processing inline")
	return d.Fallback.Dispatch(ctx, raw, u)
}
