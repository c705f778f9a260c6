package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateScoreClampsToUpperBound(t *testing.T) {
	score := 0.0
	for i := 0; i < 10000; i++ {
		score = UpdateScore(score, Tally{Successes: i + 1, Total: i + 1, Corrections: 0})
	}
	require.LessOrEqual(t, score, 4.0)
}

func TestUpdateScoreClampsToLowerBound(t *testing.T) {
	score := 0.5
	for i := 0; i < 100; i++ {
		score = UpdateScore(score, Tally{Successes: 0, Total: i + 1, Corrections: i + 1})
	}
	require.GreaterOrEqual(t, score, 0.0)
}

func TestUpdateScoreNoInteractionsIsNoop(t *testing.T) {
	require.Equal(t, 1.5, UpdateScore(1.5, Tally{}))
}

func TestUpdateScoreRewardsSuccessPenalizesCorrection(t *testing.T) {
	onlySuccess := UpdateScore(1.0, Tally{Successes: 10, Total: 10, Corrections: 0})
	withCorrections := UpdateScore(1.0, Tally{Successes: 5, Total: 10, Corrections: 5})
	require.Greater(t, onlySuccess, withCorrections)
}
