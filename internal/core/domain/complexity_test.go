package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreComplexity_SimpleSelect(t *testing.T) {
	c := ScoreComplexity("SELECT id, name FROM networks")
	assert.Equal(t, 1, c.Score)
	assert.Equal(t, ComplexitySimple, c.Class)
	assert.Zero(t, c.Joins)
	assert.Zero(t, c.Subqueries)
}

func TestScoreComplexity_CountsFeatures(t *testing.T) {
	sql := `SELECT n.region, COUNT(*), SUM(s.cidr_size)
		FROM networks n
		JOIN subnets s ON s.network_id = n.id
		WHERE n.active AND s.deleted_at IS NULL
		GROUP BY n.region
		ORDER BY n.region, COUNT(*)`
	c := ScoreComplexity(sql)

	assert.Equal(t, 1, c.Joins)
	assert.Equal(t, 3, c.Aggregates) // two in SELECT, one in ORDER BY
	assert.Equal(t, 2, c.Conditions) // WHERE + AND
	assert.Equal(t, 1, c.GroupFields)
	assert.Equal(t, 2, c.OrderFields)
}

func TestScoreComplexity_Subqueries(t *testing.T) {
	sql := `SELECT * FROM networks WHERE id IN (SELECT network_id FROM subnets)
		AND region IN (SELECT region FROM gateways)`
	c := ScoreComplexity(sql)
	assert.Equal(t, 2, c.Subqueries)
}

func TestScoreComplexity_UnionArmsAreNotSubqueries(t *testing.T) {
	c := ScoreComplexity("SELECT id FROM networks UNION SELECT id FROM gateways")
	assert.Equal(t, 1, c.Unions)
	assert.Zero(t, c.Subqueries)
}

func TestScoreComplexity_ScoreBounds(t *testing.T) {
	huge := `SELECT COUNT(a), SUM(b), AVG(c) FROM t1
		JOIN t2 ON x JOIN t3 ON y JOIN t4 ON z JOIN t5 ON w
		WHERE a AND b AND c AND d OR e
		AND f IN (SELECT g FROM t6 WHERE h IN (SELECT i FROM t7))
		GROUP BY p, q, r ORDER BY s, t`
	c := ScoreComplexity(huge)
	assert.Equal(t, 10, c.Score)
	assert.Equal(t, ComplexityVeryComplex, c.Class)

	assert.Equal(t, 1, ScoreComplexity("").Score)
}

// Adding any counted feature must never decrease the score.
func TestScoreComplexity_Monotonic(t *testing.T) {
	base := "SELECT id FROM networks WHERE active"
	richer := []string{
		base + " AND region = 'eu'",
		base + " ORDER BY id",
		"SELECT COUNT(id) FROM networks WHERE active",
		base + " UNION SELECT id FROM gateways",
	}
	baseScore := ScoreComplexity(base).Score
	for _, sql := range richer {
		assert.GreaterOrEqual(t, ScoreComplexity(sql).Score, baseScore, sql)
	}
}

func TestClassify_Boundaries(t *testing.T) {
	assert.Equal(t, ComplexitySimple, classify(3))
	assert.Equal(t, ComplexityModerate, classify(4))
	assert.Equal(t, ComplexityModerate, classify(5))
	assert.Equal(t, ComplexityComplex, classify(8))
	assert.Equal(t, ComplexityVeryComplex, classify(9))
}
