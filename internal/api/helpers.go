// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import (
	"encoding/json"
	"net/http"

	"github.com/cloudbus/cloudbus/model"
)

func outputJSON(c *Context, w http.ResponseWriter, data interface{}) {
	encoder := json.NewEncoder(w)
	err := encoder.Encode(data)
	if err != nil {
		c.Logger.WithError(err).Error("failed to encode result")
	}
}

// failWithInput answers a request that could not be served, mapping
// validation failures to 400 and everything else to 500.
func failWithInput(c *Context, w http.ResponseWriter, err error, message string) {
	if model.IsInvalidInput(err) {
		c.Logger.WithError(err).Warn(message)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.Logger.WithError(err).Error(message)
	w.WriteHeader(http.StatusInternalServerError)
}
