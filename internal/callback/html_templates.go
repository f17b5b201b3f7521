package callback

// loginSuccessHTML is served after the provider redirected back with an authorization code.
const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sign-in complete</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f4f6fb;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.1);
            max-width: 420px;
        }
        h1 { color: #10b981; font-size: 1.5rem; }
        p { color: #4b5563; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Sign-in complete</h1>
        <p>You can close this tab and return to the app.</p>
    </div>
    <script>setTimeout(function () { window.close(); }, 3000);</script>
</body>
</html>`

// loginFailedHTML is served when the redirect carries an error or no code.
// {{MESSAGE}} is replaced with the escaped reason.
const loginFailedHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Sign-in failed</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #f4f6fb;
        }
        .container {
            text-align: center;
            background: white;
            padding: 2.5rem;
            border-radius: 12px;
            box-shadow: 0 10px 25px rgba(0,0,0,0.1);
            max-width: 420px;
        }
        h1 { color: #ef4444; font-size: 1.5rem; }
        p { color: #4b5563; }
        code { color: #111827; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Sign-in failed</h1>
        <p><code>{{MESSAGE}}</code></p>
        <p>You can close this tab and try again from the app.</p>
    </div>
</body>
</html>`
