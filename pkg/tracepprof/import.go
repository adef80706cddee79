// Copyright 2025 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracepprof

import (
	"github.com/go-kit/log/level"

	"github.com/parca-dev/tracepprof/pkg/tracestore"
)

// Run imports the dump into the database.
func (c *ImportCmd) Run(env *Env) error {
	src, err := tracestore.LoadFile(c.Dump)
	if err != nil {
		return err
	}

	db, err := openBadger(env.Ctx, env.Logger, c.DB)
	if err != nil {
		return err
	}

	if err := db.Import(env.Ctx, src); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}

	level.Info(env.Logger).Log("msg", "imported trace dump", "dump", c.Dump, "db", c.DB)
	return nil
}
