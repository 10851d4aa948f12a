package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/spf13/cobra"

	"slackgate/internal/config"
	"slackgate/internal/consumer"
)

// lambdaCmd groups the AWS Lambda entry points. Each one builds its
// components once per cold start and reuses them across invocations.
func lambdaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function",
	}

	var payloadV1 bool
	gw := &cobra.Command{
		Use:   "gateway",
		Short: "Serve the gateway behind API Gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLambdaGateway(payloadV1)
		},
	}
	gw.Flags().BoolVar(&payloadV1, "rest-api", false, "accept REST API (payload v1) events instead of HTTP API v2")
	cmd.AddCommand(gw)

	cmd.AddCommand(consumerLambdaCmd("post-message", consumer.PostMessage))
	cmd.AddCommand(consumerLambdaCmd("post-ephemeral", consumer.PostEphemeral))
	return cmd
}

func lambdaComponents() (*components, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg.Log, os.Stderr)
	comps, err := newComponents(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return comps, cfg, nil
}

func runLambdaGateway(payloadV1 bool) error {
	comps, cfg, err := lambdaComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	ctx := context.Background()
	transport, bus, err := comps.newTransport(ctx)
	if err != nil {
		return err
	}
	if bus != nil {
		return fmt.Errorf("publish transport %q is not usable from lambda", cfg.Publish.Transport)
	}

	gw, err := comps.newGateway(ctx, transport)
	if err != nil {
		return err
	}

	logger.Info("lambda gateway ready", "transport", cfg.Publish.Transport, "rest_api", payloadV1)
	if payloadV1 {
		lambda.Start(httpadapter.New(gw).ProxyWithContext)
	} else {
		lambda.Start(httpadapter.NewV2(gw).ProxyWithContext)
	}
	return nil
}

func consumerLambdaCmd(use string, mode consumer.Mode) *cobra.Command {
	var fromSQS bool
	cmd := &cobra.Command{
		Use:   use,
		Short: "Deliver topic records with " + mode.String(),
		Long: "Handles SNS-triggered invocations by default. Any failed record fails the " +
			"invocation. With --sqs, failed records are reported as batch item failures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, _, err := lambdaComponents()
			if err != nil {
				return err
			}
			defer comps.close()

			cons, err := comps.newConsumer(context.Background(), mode)
			if err != nil {
				return err
			}

			logger.Info("lambda consumer ready", "mode", mode.String(), "sqs", fromSQS)
			if fromSQS {
				lambda.Start(func(ctx context.Context, e events.SQSEvent) (events.SQSEventResponse, error) {
					return cons.Deliver(ctx, consumer.FromSQSEvent(e)).SQSResponse(), nil
				})
			} else {
				lambda.Start(func(ctx context.Context, e events.SNSEvent) error {
					return cons.Deliver(ctx, consumer.FromSNSEvent(e)).Err()
				})
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromSQS, "sqs", false, "consume SQS events with partial batch responses")
	return cmd
}
