package database

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewOptions()
	require.NoError(t, o.Complete())
	assert.Empty(t, o.Validate())
}

func TestOnlySelectedDriverIsValidated(t *testing.T) {
	o := NewOptions()
	o.MySQL.Host = ""
	assert.Empty(t, o.Validate(), "mysql options are ignored for sqlite")

	o.Driver = DriverMySQL
	assert.Len(t, o.Validate(), 1)

	o.Driver = "oracle"
	assert.Len(t, o.Validate(), 1)
}

func TestFlagsAreNested(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--database.driver=postgres",
		"--database.postgres.host=db.internal",
		"--database.mysql.port=3307",
	}))
	assert.Equal(t, DriverPostgres, o.Driver)
	assert.Equal(t, "db.internal", o.Postgres.Host)
	assert.Equal(t, 3307, o.MySQL.Port)
	assert.Contains(t, o.Postgres.DSN(), "host=db.internal")
}
