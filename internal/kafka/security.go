package kafka

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"fmt"
	"hash"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
	"github.com/xdg-go/scram"
)

// Ensure implementations satisfy Sarama interfaces.
var (
	_ sarama.SCRAMClient         = (*scramClient)(nil)
	_ sarama.AccessTokenProvider = (*MSKAccessTokenProvider)(nil)
)

// configureSecurity applies the security protocol and SASL mechanism of
// kafkaConfig. It is shared by the consumer and the DLQ producer.
func configureSecurity(config *sarama.Config, kafkaConfig ConsumerConfig) error {
	switch kafkaConfig.SecurityProtocol {
	case "", "PLAINTEXT":
		return nil

	case "SSL":
		enableTLS(config, kafkaConfig.TLSSkipVerify)
		return nil

	case "SASL_PLAINTEXT", "SASL_SSL":
		if err := configureSASL(config, kafkaConfig); err != nil {
			return err
		}
		if kafkaConfig.SecurityProtocol == "SASL_SSL" {
			enableTLS(config, kafkaConfig.TLSSkipVerify)
		}
		return nil

	default:
		return fmt.Errorf("unsupported security protocol: %s", kafkaConfig.SecurityProtocol)
	}
}

func enableTLS(config *sarama.Config, skipVerify bool) {
	config.Net.TLS.Enable = true
	config.Net.TLS.Config = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: skipVerify,
	}
}

func configureSASL(config *sarama.Config, kafkaConfig ConsumerConfig) error {
	config.Net.SASL.Enable = true
	config.Net.SASL.User = kafkaConfig.SASLUsername
	config.Net.SASL.Password = kafkaConfig.SASLPassword

	switch kafkaConfig.SASLMechanism {
	case "PLAIN":
		config.Net.SASL.Mechanism = sarama.SASLTypePlaintext

	case "SCRAM-SHA-256":
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		config.Net.SASL.SCRAMClientGeneratorFunc = scramGenerator(sha256.New)

	case "SCRAM-SHA-512":
		config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		config.Net.SASL.SCRAMClientGeneratorFunc = scramGenerator(sha512.New)

	case "AWS_MSK_IAM":
		if kafkaConfig.AWSRegion == "" {
			return fmt.Errorf("AWS_MSK_IAM requires an AWS region")
		}
		config.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		// Sarama validates user and password even for OAUTHBEARER.
		config.Net.SASL.User = "token"
		config.Net.SASL.Password = "token"
		config.Net.SASL.TokenProvider = &MSKAccessTokenProvider{Region: kafkaConfig.AWSRegion}

	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", kafkaConfig.SASLMechanism)
	}
	return nil
}

// scramClient adapts an xdg-go/scram conversation to sarama.SCRAMClient.
type scramClient struct {
	hashFcn      scram.HashGeneratorFcn
	conversation *scram.ClientConversation
}

func scramGenerator(newHash func() hash.Hash) func() sarama.SCRAMClient {
	return func() sarama.SCRAMClient {
		return &scramClient{hashFcn: scram.HashGeneratorFcn(newHash)}
	}
}

// Begin starts a conversation for the given credentials.
func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conversation = client.NewConversation()
	return nil
}

// Step answers a server challenge.
func (c *scramClient) Step(challenge string) (string, error) {
	if c.conversation == nil {
		return "", fmt.Errorf("scram conversation not started")
	}
	return c.conversation.Step(challenge)
}

// Done reports whether the conversation completed.
func (c *scramClient) Done() bool {
	return c.conversation != nil && c.conversation.Done()
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS MSK
// IAM authentication, using the default AWS credential chain.
type MSKAccessTokenProvider struct {
	Region string
}

// Token generates an AWS MSK IAM authentication token.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, expiryMs, err := signer.GenerateAuthToken(context.Background(), m.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}

	return &sarama.AccessToken{
		Token:      token,
		Extensions: map[string]string{"expiry": strconv.FormatInt(expiryMs, 10)},
	}, nil
}
