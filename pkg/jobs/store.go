// Package jobs reads in-flight processing jobs from the HyP3 DynamoDB jobs
// table.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/example/go-itslive/monitor/dedup"
)

const (
	// DefaultStatusIndex is the global secondary index keyed by status_code.
	DefaultStatusIndex = "status_code"
	defaultJobType     = "AUTORIFT"
)

// Record is a jobs table item as stored by HyP3.
type Record struct {
	JobID         string        `dynamodbav:"job_id"`
	JobType       string        `dynamodbav:"job_type"`
	Name          string        `dynamodbav:"name"`
	StatusCode    string        `dynamodbav:"status_code"`
	UserID        string        `dynamodbav:"user_id"`
	RequestTime   string        `dynamodbav:"request_time"`
	JobParameters JobParameters `dynamodbav:"job_parameters"`
}

// JobParameters holds the granules of an AUTORIFT job.
type JobParameters struct {
	Granules []string `dynamodbav:"granules"`
}

// Store implements dedup.JobStore with DynamoDB queries.
type Store struct {
	client  dynamodb.QueryAPIClient
	tables  map[string]string
	index   string
	userID  string
	jobType string
}

// Option configures a Store.
type Option func(*Store)

// WithStatusIndex overrides the status index name.
func WithStatusIndex(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.index = name
		}
	}
}

// WithUserID restricts matches to jobs submitted by one account.
func WithUserID(id string) Option {
	return func(s *Store) { s.userID = id }
}

// WithJobType overrides the job type filter.
func WithJobType(jobType string) Option {
	return func(s *Store) {
		if jobType != "" {
			s.jobType = jobType
		}
	}
}

// NewStore returns a Store. tables maps a deployment environment to its jobs
// table; the "" entry is used when a query names no known environment.
func NewStore(client dynamodb.QueryAPIClient, tables map[string]string, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("jobs: dynamodb client is required")
	}
	if len(tables) == 0 {
		return nil, errors.New("jobs: at least one table is required")
	}
	s := &Store{
		client:  client,
		tables:  make(map[string]string, len(tables)),
		index:   DefaultStatusIndex,
		jobType: defaultJobType,
	}
	for env, table := range tables {
		s.tables[env] = table
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Table returns the jobs table for env.
func (s *Store) Table(env string) (string, error) {
	if table, ok := s.tables[env]; ok && table != "" {
		return table, nil
	}
	if table, ok := s.tables[""]; ok && table != "" {
		return table, nil
	}
	return "", fmt.Errorf("jobs: no table configured for environment %q", env)
}

// FindActive queries the status index once per requested status. Jobs are
// named after their reference scene, so either granule may be the name.
func (s *Store) FindActive(ctx context.Context, q dedup.JobQuery) ([]dedup.JobRecord, error) {
	table, err := s.Table(q.Environment)
	if err != nil {
		return nil, err
	}

	var records []dedup.JobRecord
	for _, status := range q.Statuses {
		expr, err := s.expression(status, q.Granules)
		if err != nil {
			return nil, fmt.Errorf("jobs: build query: %w", err)
		}
		paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
			TableName:                 aws.String(table),
			IndexName:                 aws.String(s.index),
			KeyConditionExpression:    expr.KeyCondition(),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("jobs: query %s %s jobs: %w", table, status, err)
			}
			var items []Record
			if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
				return nil, fmt.Errorf("jobs: decode %s jobs: %w", status, err)
			}
			for _, item := range items {
				record := dedup.JobRecord{
					ID:       item.JobID,
					Name:     item.Name,
					Status:   item.StatusCode,
					Granules: item.JobParameters.Granules,
				}
				if q.PairKey == "" || record.PairKey() == q.PairKey {
					records = append(records, record)
				}
			}
		}
	}
	return records, nil
}

func (s *Store) expression(status string, granules [2]string) (expression.Expression, error) {
	key := expression.Key("status_code").Equal(expression.Value(status))
	filter := expression.Name("job_type").Equal(expression.Value(s.jobType))
	if granules[0] != "" || granules[1] != "" {
		filter = filter.And(expression.Name("name").In(expression.Value(granules[0]), expression.Value(granules[1])))
	}
	if s.userID != "" {
		filter = filter.And(expression.Name("user_id").Equal(expression.Value(s.userID)))
	}
	return expression.NewBuilder().WithKeyCondition(key).WithFilter(filter).Build()
}
