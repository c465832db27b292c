package bedrock

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// awsCredentialsValue adapts a CredentialsProvider into the aws.Credentials
// value the v4 signer expects, going through the SDK's static provider so
// session tokens are normalized the same way every other SDK caller sees
// them.
func awsCredentialsValue(ctx context.Context, c CredentialsProvider) (aws.Credentials, error) {
	provider := credentials.NewStaticCredentialsProvider(
		c.AccessKeyID(), c.SecretAccessKey(), c.SessionToken())
	return provider.Retrieve(ctx)
}

// InvokeModelURL builds the Bedrock Runtime InvokeModel endpoint for a
// given model id. The pipeline's plain Poster/Signer collaborators target
// this URL directly rather than going through the generated SDK client.
func InvokeModelURL(region, modelID string) string {
	return "https://bedrock-runtime." + region + ".amazonaws.com/model/" + modelID + "/invoke"
}
