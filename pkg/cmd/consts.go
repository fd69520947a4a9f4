package cmd

const (
	RootCmdName  = "carprice"
	RootCmdShort = "Used car price prediction service"
	RootCmdLong  = `carprice serves a trained regression model that estimates the resale
price of a used car from its brand, age, usage and specifications.`

	ServeCmdName  = "serve"
	ServeCmdShort = "Start the prediction web server"
	ServeCmdLong  = `Load the model artifact and serve the input form, the JSON API and
Prometheus metrics over HTTP until interrupted.`

	PredictCmdName  = "predict"
	PredictCmdShort = "Predict the price of one car from the command line"
	PredictCmdLong  = `Run a single submission through the same pipeline the web server uses
and print the predicted price.`
)
