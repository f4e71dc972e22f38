// Copyright (c) 2021-present Cloudbus Authors. All Rights Reserved.
// See LICENSE.txt for license information.
//

package api

import "github.com/gorilla/mux"

// Register registers the API endpoints on the given router.
func Register(rootRouter *mux.Router, context *Context) {
	apiRouter := rootRouter.PathPrefix("/api/organization/{organization:[A-Za-z0-9_-]+}").Subrouter()

	initEvents(apiRouter, context)
	initSubscriptions(apiRouter, context)
}
